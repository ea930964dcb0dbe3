// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream follows one assistant generation over a resumable event
// stream and renders it into a model.Conversation.
//
// # Key Types
//
//   - State: Bound assistant id, last applied sequence, live cancel handle
//   - Reconciler: Applies decoded events in a fixed order
//   - Session: The Idle/Starting/Streaming/terminal state machine
//
// Deltas carry a sequence number and are applied at most once; a snapshot
// replaces the content and the sequence outright. A view that loses its
// connection can resubscribe with the last sequence it saw and receive the
// remaining text exactly once.
//
// # Usage
//
//	s := stream.NewSession(sessionID, conv, client, syncer, tracker, stream.Options{})
//	_ = s.Start(ctx, stream.NewMessage("Hello"))
//	...
//	s.Abort()     // user cancel: marker, server stops generating
//	s.Resume(ctx) // on refocus
//	s.Detach()    // view going away: the server keeps generating
package stream
