// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides a minimal streaming client for the Ollama chat
// API, used by the server's Ollama generator.
//
// # Usage
//
//	client := ollama.NewClient(&ollama.ClientConfig{BaseURL: url, DefaultModel: "qwen2.5-coder:7b"})
//	err := client.ChatStream(ctx, "", messages, func(c ollama.StreamChunk) {
//	    fmt.Print(c.Content)
//	})
package ollama
