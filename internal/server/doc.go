// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the chat backend: durable sessions and messages,
// background reply generation, and resumable event streams.
//
// # Endpoints
//
//   - GET    /api/chat/messages          - Durable history of a session
//   - POST   /api/chat/stream            - Start or resubscribe to a reply (SSE)
//   - GET    /api/chat/stream/active     - Replies still being generated
//   - POST   /api/chat/stream/abort      - Stop a reply
//   - POST   /api/chat/send              - Store a turn and wait for the reply
//   - POST   /api/chat/ask               - Answer a question without history
//   - POST   /api/chat/mark-as-read      - Acknowledge messages
//   - POST   /api/chat/mark-all-as-read  - Acknowledge everything
//   - GET    /api/chat/unread-count      - Global unread summary
//   - GET    /api/chat/sessions          - List sessions
//   - POST   /api/chat/sessions[/create] - Create a session
//   - DELETE /api/chat/sessions/{id}     - Delete a session
//   - GET    /health                     - Health check
//
// Replies run as jobs that outlive the request that started them. Every
// chunk carries a sequence number; a client that reconnects with the last
// number it applied gets a snapshot of the text so far, then live chunks.
//
// # Middleware
//
//   - Panic recovery and request logging
//   - Per-IP token bucket rate limiting
//   - Optional bearer token authentication with constant-time comparison
//
// # Usage
//
//	srv := server.New(cfg, store, gen, logger)
//	go srv.ListenAndServe()
//	defer srv.Shutdown(ctx)
package server
