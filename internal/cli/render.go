// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/taskchat/internal/model"
)

// =============================================================================
// TRANSCRIPT RENDERER
// =============================================================================

// Renderer prints conversation changes as an append-only transcript.
//
// Terminal output cannot be rewritten, so only the newest message grows in
// place: deltas of the tail message are written as they arrive. A message
// whose content is replaced rather than extended, or that resumes streaming
// after other output, is printed again in full.
type Renderer struct {
	mu sync.Mutex

	out      io.Writer
	viewport *ScrollbackViewport
	source   func() []model.Message

	shown map[string]string
	tail  string
	open  bool

	// echo is the text the user just typed at the prompt. The matching
	// user message is already on screen and is not printed again.
	echo       string
	echoPrompt string
}

// NewRenderer creates a renderer. source returns the current message list
// and is consulted when the whole conversation is replaced.
func NewRenderer(out io.Writer, viewport *ScrollbackViewport, source func() []model.Message) *Renderer {
	return &Renderer{
		out:      out,
		viewport: viewport,
		source:   source,
		shown:    make(map[string]string),
	}
}

// Handle applies one conversation change.
func (r *Renderer) Handle(ch model.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ch.Kind {
	case model.ChangeAdded:
		r.add(ch.Message)
	case model.ChangeUpdated:
		r.update(ch.Message)
	case model.ChangeRenamed:
		r.rename(ch.OldID, ch.Message.ID)
	case model.ChangeRemoved:
		delete(r.shown, ch.Message.ID)
	case model.ChangeReset:
		if r.source == nil {
			return
		}
		r.reset(r.source())
	}
}

// reset reconciles the transcript with a replaced message list. A local
// placeholder that vanished is matched by content to the durable message
// that replaced it, which is then adopted without printing.
func (r *Renderer) reset(msgs []model.Message) {
	present := make(map[string]bool, len(msgs))
	for _, msg := range msgs {
		present[msg.ID] = true
	}
	var orphans []string
	for id := range r.shown {
		if model.IsPlaceholderID(id) && !present[id] {
			orphans = append(orphans, id)
		}
	}

	for _, msg := range msgs {
		if _, ok := r.shown[msg.ID]; ok {
			r.update(msg)
			continue
		}
		adopted := false
		for i, id := range orphans {
			if r.shown[id] == msg.Content {
				r.rename(id, msg.ID)
				orphans = append(orphans[:i], orphans[i+1:]...)
				adopted = true
				break
			}
		}
		if !adopted {
			r.add(msg)
		}
	}
}

// Echoed records that text was typed at prompt and is already visible.
func (r *Renderer) Echoed(prompt, text string) {
	r.mu.Lock()
	r.echo, r.echoPrompt = text, prompt
	r.mu.Unlock()
}

// Notice prints a line that belongs to no message.
func (r *Renderer) Notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	text := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.out, text)
	r.viewport.Advance(RowsFor(text, r.viewport.Width()))
}

// EndLine terminates a partially printed message so the next output starts
// on a fresh row.
func (r *Renderer) EndLine() {
	r.mu.Lock()
	r.endLine()
	r.mu.Unlock()
}

func (r *Renderer) endLine() {
	if r.open {
		fmt.Fprintln(r.out)
		r.open = false
	}
}

func header(msg model.Message) string {
	return msg.Role.DisplayName() + ": "
}

func (r *Renderer) add(msg model.Message) {
	if _, ok := r.shown[msg.ID]; ok {
		r.update(msg)
		return
	}

	if msg.Role == model.RoleUser && r.echo != "" && msg.Content == r.echo {
		r.shown[msg.ID] = msg.Content
		r.viewport.Place(msg.ID, RowsFor(r.echoPrompt+msg.Content, r.viewport.Width()))
		r.echo, r.echoPrompt = "", ""
		return
	}

	r.endLine()
	text := header(msg) + msg.Content
	fmt.Fprint(r.out, text)
	r.shown[msg.ID] = msg.Content
	r.viewport.Place(msg.ID, RowsFor(text, r.viewport.Width()))
	r.tail = msg.ID
	r.open = true
	if !msg.Streaming {
		r.endLine()
	}
}

func (r *Renderer) update(msg model.Message) {
	old, ok := r.shown[msg.ID]
	if !ok {
		r.add(msg)
		return
	}
	if msg.Content == old {
		if !msg.Streaming && r.tail == msg.ID {
			r.endLine()
		}
		return
	}
	r.shown[msg.ID] = msg.Content

	if r.tail != msg.ID && !msg.Streaming {
		// Already scrolled past; the durable copy is shown on the next load.
		return
	}

	text := header(msg) + msg.Content
	if r.tail == msg.ID && r.open && strings.HasPrefix(msg.Content, old) {
		fmt.Fprint(r.out, msg.Content[len(old):])
		r.viewport.Grow(msg.ID, RowsFor(text, r.viewport.Width()))
	} else {
		r.endLine()
		fmt.Fprint(r.out, text)
		r.viewport.Move(msg.ID, RowsFor(text, r.viewport.Width()))
		r.tail = msg.ID
		r.open = true
	}
	if !msg.Streaming {
		r.endLine()
	}
}

func (r *Renderer) rename(oldID, newID string) {
	content, ok := r.shown[oldID]
	if !ok {
		return
	}
	delete(r.shown, oldID)
	r.shown[newID] = content
	r.viewport.Rename(oldID, newID)
	if r.tail == oldID {
		r.tail = newID
	}
}
