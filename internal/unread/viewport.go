// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package unread

// Rect is an axis-aligned region in viewport coordinates. Top < Bottom and
// Left < Right for a non-empty rect.
type Rect struct {
	Top, Left, Bottom, Right float64
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Bottom <= r.Top || r.Right <= r.Left
}

// Contains reports whether inner lies entirely within r. Touching edges
// count as inside; any overhang, however small, does not.
func (r Rect) Contains(inner Rect) bool {
	if r.Empty() {
		return false
	}
	return inner.Top >= r.Top &&
		inner.Left >= r.Left &&
		inner.Bottom <= r.Bottom &&
		inner.Right <= r.Right
}

// Viewport reports where messages are laid out. A message that is not
// laid out (scrolled off a virtualized list, or not rendered yet) returns
// false.
type Viewport interface {
	Container() Rect
	Bounds(messageID string) (Rect, bool)
}
