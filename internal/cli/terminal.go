// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection and scrollback layout for the chat REPL.
//
// The chat command prints messages into the terminal's scrollback. The
// unread tracker needs to know which messages are on screen, so every
// printed message is recorded here as a span of terminal rows and the
// screen is modeled as the last `height` rows of that scrollback.

package cli

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/jeranaias/taskchat/internal/unread"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY returns true if stdin is a terminal.
// Use this to determine if interactive prompts are possible.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// =============================================================================
// TERMINAL SIZE
// =============================================================================

const (
	// DefaultTerminalWidth is the fallback width when detection fails
	DefaultTerminalWidth = 80

	// DefaultTerminalHeight is the fallback height when detection fails
	DefaultTerminalHeight = 24

	// MinTerminalWidth is the minimum width we'll use for wrapping
	MinTerminalWidth = 20
)

// GetTerminalSize returns both width and height of the terminal.
// Returns defaults (80x24) if size cannot be determined.
func GetTerminalSize() (width, height int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return DefaultTerminalWidth, DefaultTerminalHeight
	}
	if w < MinTerminalWidth {
		w = MinTerminalWidth
	}
	return w, h
}

// RowsFor returns how many terminal rows text occupies at the given width.
// Every line takes at least one row; wide runes count double.
func RowsFor(text string, width int) int {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		w := runewidth.StringWidth(line)
		if w == 0 {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return rows
}

// WrapText wraps text to fit within maxWidth display columns.
// Preserves existing newlines and breaks on word boundaries.
func WrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		maxWidth, _ = GetTerminalSize()
	}

	var result strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			result.WriteString("\n")
		}
		if runewidth.StringWidth(line) <= maxWidth {
			result.WriteString(line)
			continue
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		current := words[0]
		currentWidth := runewidth.StringWidth(current)
		for _, word := range words[1:] {
			ww := runewidth.StringWidth(word)
			if currentWidth+1+ww <= maxWidth {
				current += " " + word
				currentWidth += 1 + ww
				continue
			}
			result.WriteString(current)
			result.WriteString("\n")
			current, currentWidth = word, ww
		}
		result.WriteString(current)
	}
	return result.String()
}

// =============================================================================
// SCROLLBACK VIEWPORT
// =============================================================================

type span struct {
	top  int
	rows int
}

// ScrollbackViewport implements unread.Viewport over terminal scrollback.
// Messages are stacked in print order; the visible screen is the bottom
// `height` rows. Rows taken by prompts and notices count toward the
// scrollback but belong to no message.
type ScrollbackViewport struct {
	mu     sync.Mutex
	width  int
	height int
	total  int
	spans  map[string]span
	order  []string
}

var _ unread.Viewport = (*ScrollbackViewport)(nil)

// NewScrollbackViewport creates an empty viewport of the given size.
func NewScrollbackViewport(width, height int) *ScrollbackViewport {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	if height <= 0 {
		height = DefaultTerminalHeight
	}
	return &ScrollbackViewport{
		width:  width,
		height: height,
		spans:  make(map[string]span),
	}
}

// Resize updates the terminal dimensions.
func (v *ScrollbackViewport) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	v.mu.Lock()
	v.width, v.height = width, height
	v.mu.Unlock()
}

// Width returns the current terminal width.
func (v *ScrollbackViewport) Width() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.width
}

// Place records a newly printed message of the given row height at the
// bottom of the scrollback.
func (v *ScrollbackViewport) Place(id string, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.spans[id]; ok {
		return
	}
	v.spans[id] = span{top: v.total, rows: rows}
	v.order = append(v.order, id)
	v.total += rows
}

// Grow sets the row height of a printed message. Messages printed after it
// shift down.
func (v *ScrollbackViewport) Grow(id string, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sp, ok := v.spans[id]
	if !ok {
		return
	}
	delta := rows - sp.rows
	if delta == 0 {
		return
	}
	sp.rows = rows
	v.spans[id] = sp
	shift := false
	for _, other := range v.order {
		if other == id {
			shift = true
			continue
		}
		if shift {
			o := v.spans[other]
			o.top += delta
			v.spans[other] = o
		}
	}
	v.total += delta
}

// Move re-records a message printed again at the bottom. Its earlier rows
// stay in the scrollback but no longer belong to it.
func (v *ScrollbackViewport) Move(id string, rows int) {
	v.mu.Lock()
	delete(v.spans, id)
	for i, other := range v.order {
		if other == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	v.mu.Unlock()
	v.Place(id, rows)
}

// Rename moves a span to a new message id.
func (v *ScrollbackViewport) Rename(oldID, newID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sp, ok := v.spans[oldID]
	if !ok {
		return
	}
	delete(v.spans, oldID)
	v.spans[newID] = sp
	for i, id := range v.order {
		if id == oldID {
			v.order[i] = newID
		}
	}
}

// Advance accounts for rows printed outside any message.
func (v *ScrollbackViewport) Advance(rows int) {
	v.mu.Lock()
	v.total += rows
	v.mu.Unlock()
}

// Container returns the visible screen in scrollback rows.
func (v *ScrollbackViewport) Container() unread.Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	top := v.total - v.height
	if top < 0 {
		top = 0
	}
	bottom := top + v.height
	return unread.Rect{Top: float64(top), Bottom: float64(bottom), Left: 0, Right: float64(v.width)}
}

// Bounds returns the rows a printed message occupies.
func (v *ScrollbackViewport) Bounds(messageID string) (unread.Rect, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sp, ok := v.spans[messageID]
	if !ok {
		return unread.Rect{}, false
	}
	return unread.Rect{
		Top:    float64(sp.top),
		Bottom: float64(sp.top + sp.rows),
		Left:   0,
		Right:  float64(v.width),
	}, true
}
