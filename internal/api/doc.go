// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the chat backend.
//
// JSON endpoints are sent through a retrying client that backs off on
// connection failures, 429 and 5xx responses. The stream endpoint uses a
// pooled client without a timeout and is never retried: a broken stream is
// resumed by resubscribing, not by replaying the POST.
//
// # Key Types
//
//   - Client: Endpoint methods (Messages, OpenStream, MarkAsRead, ...)
//   - APIError: Non-2xx or success=false responses; unwraps to ErrNotFound,
//     ErrUnauthorized, ErrRateLimited or ErrConflict
//   - StreamRequest: New message or resubscription to an assistant message
//
// # Usage
//
//	c := api.New(cfg.Client.BaseURL, api.WithToken(cfg.Client.APIToken))
//	hist, err := c.Messages(ctx, sessionID, false)
package api
