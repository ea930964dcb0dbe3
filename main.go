// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// taskchat is a resumable streaming chat client and server.
package main

import (
	"os"

	"github.com/jeranaias/taskchat/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
