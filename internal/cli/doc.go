// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the taskchat command line.
//
// Commands are built with cobra. Global flags (--config, --log-level, --url,
// --json) are resolved once in the root command before any subcommand runs.
//
// # Commands Overview
//
//   - serve: Run the chat server with the configured generator
//   - chat [session-id]: Interactive chat with resumable streaming replies
//   - ask <question> [--session id]: Print a whole answer once it is ready
//   - sessions [list|create|show|delete]: Manage sessions
//   - unread [--mark-all]: Unread counts across sessions
//   - config [show|path|init]: Inspect or write the configuration
//   - version: Print build information
//
// # Key Types
//
//   - REPL: The interactive chat loop over a session.View
//   - Renderer: Prints conversation changes as an append-only transcript
//   - ScrollbackViewport: Terminal rows as an unread.Viewport
//   - JSONResponse: Envelope for --json output
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute())
//	}
package cli
