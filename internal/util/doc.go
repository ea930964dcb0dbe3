// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across taskchat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: Truncation by terminal display width
//   - StringWidth: Display width in terminal columns
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// # Usage
//
//	preview := util.TruncateRunes(msg.Content, 50)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
