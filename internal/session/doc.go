// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the controller for one open chat session.
//
// # Key Types
//
//   - View: Owns the conversation and drives history, discovery, the
//     stream session and unread tracking
//   - Client: The backend calls a view makes
//   - Status: Point-in-time summary for status lines
//
// # Usage
//
//	v := session.New(id, client, viewport, badges, session.ConfigFrom(cfg, logger))
//	if err := v.Open(ctx); err != nil {
//	    return err
//	}
//	defer v.Close()
//
//	v.Send("Summarise the task")
//	v.Cancel()
//	v.Focus() // resumes a dropped stream
package session
