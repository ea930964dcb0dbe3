// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides chat session persistence for the taskchat
// server.
//
// Sessions and messages live in a single SQLite database (pure Go driver,
// WAL mode). Message ids are the integer row ids and are what clients see
// as durable message identities.
//
// # Key Types
//
//   - Store: Session and message CRUD plus read-state bookkeeping
//   - SessionUnread: Per-session unread summary
//
// # Usage
//
//	store, err := storage.Open(cfg.Server.DBPath)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	sess, welcome, err := store.CreateSession(ctx, model.Session{Title: "Plan"})
//	msg, err := store.AddMessage(ctx, sess.ID, model.RoleUser, "Hello")
//
// # Storage Location
//
// The database defaults to ~/.taskchat/chat.db.
package storage
