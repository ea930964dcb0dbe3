// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package unread tracks which assistant messages the user has not yet
// seen and acknowledges them once they have been fully on screen.
//
// A message counts as seen only when its whole bounding rect sits inside
// the scroll container; partially visible messages stay unread.
package unread
