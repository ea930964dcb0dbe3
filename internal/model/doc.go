// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// # Key Types
//
//   - Conversation: The displayed, mutex-guarded message list of one session
//   - Message: Single message with role, content, creation time and read flag
//   - Session: A chat session, optionally attached to a task
//   - FlexID: Wire id that accepts JSON strings and numbers
//
// Messages created locally carry a placeholder id ("tmp-" + uuid) until the
// server assigns a durable one; Conversation.Rename swaps the id in one step.
//
// # Usage
//
//	conv := model.NewConversation(sessionID)
//	conv.Add(model.NewUserMessage("Hello"))
//	ph := model.NewAssistantPlaceholder()
//	conv.Add(ph)
//	conv.Append(ph.ID, "Hi")
//	conv.Rename(ph.ID, "42")
package model
