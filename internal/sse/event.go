// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/jeranaias/taskchat/internal/model"
)

// =============================================================================
// EVENT TYPE
// =============================================================================

// Event is one decoded stream frame. Fields are independent; a single frame
// may carry several (for example an identity and a snapshot together).
// The reader does not interpret events.
type Event struct {
	// MessageID binds the stream to a durable assistant message.
	MessageID string

	// Initial marks a snapshot frame carrying the full text so far.
	Initial      bool
	InitialChunk string

	// Seq numbers a delta frame.
	Seq    int64
	HasSeq bool

	// Chunk is the delta text. HasChunk distinguishes "" from absent.
	Chunk    string
	HasChunk bool

	// LastSeq accompanies a snapshot with the sequence number it covers.
	LastSeq    int64
	HasLastSeq bool

	// Error is a server-reported failure for this generation.
	Error string

	// Done signals normal completion.
	Done bool

	// Bare is set for a frame without a data marker; Chunk holds the raw
	// frame text.
	Bare bool
}

// SnapshotSeq returns the sequence number a snapshot covers: last_seq when
// present, else seq, else zero.
func (e Event) SnapshotSeq() int64 {
	switch {
	case e.HasLastSeq:
		return e.LastSeq
	case e.HasSeq:
		return e.Seq
	default:
		return 0
	}
}

// IsEmpty reports whether the event carries nothing actionable.
func (e Event) IsEmpty() bool {
	return e.MessageID == "" && !e.Initial && !e.HasSeq && !e.HasChunk &&
		!e.HasLastSeq && e.Error == "" && !e.Done && !e.Bare
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

type wireEvent struct {
	MessageID    model.FlexID    `json:"message_id,omitempty"`
	Initial      bool            `json:"initial,omitempty"`
	InitialChunk *string         `json:"initial_chunk,omitempty"`
	Seq          *int64          `json:"seq,omitempty"`
	Chunk        *string         `json:"chunk,omitempty"`
	LastSeq      *int64          `json:"last_seq,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	Done         bool            `json:"done,omitempty"`
}

// UnmarshalJSON decodes the wire frame. Numeric and string message ids are
// both accepted; a non-string error value is kept as its JSON text.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = Event{
		MessageID: w.MessageID.String(),
		Initial:   w.Initial,
		Done:      w.Done,
	}
	if w.InitialChunk != nil {
		e.InitialChunk = *w.InitialChunk
	}
	if w.Seq != nil {
		e.Seq, e.HasSeq = *w.Seq, true
	}
	if w.Chunk != nil {
		e.Chunk, e.HasChunk = *w.Chunk, true
	}
	if w.LastSeq != nil {
		e.LastSeq, e.HasLastSeq = *w.LastSeq, true
	}
	e.Error = decodeError(w.Error)
	return nil
}

func decodeError(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// MarshalJSON encodes the event in wire form. Numeric message ids are
// emitted as JSON numbers.
func (e Event) MarshalJSON() ([]byte, error) {
	var w struct {
		MessageID    any     `json:"message_id,omitempty"`
		Initial      bool    `json:"initial,omitempty"`
		InitialChunk *string `json:"initial_chunk,omitempty"`
		Seq          *int64  `json:"seq,omitempty"`
		Chunk        *string `json:"chunk,omitempty"`
		LastSeq      *int64  `json:"last_seq,omitempty"`
		Error        string  `json:"error,omitempty"`
		Done         bool    `json:"done,omitempty"`
	}

	if e.MessageID != "" {
		if n, err := strconv.ParseInt(e.MessageID, 10, 64); err == nil {
			w.MessageID = n
		} else {
			w.MessageID = e.MessageID
		}
	}
	w.Initial = e.Initial
	if e.Initial {
		ic := e.InitialChunk
		w.InitialChunk = &ic
	}
	if e.HasSeq {
		s := e.Seq
		w.Seq = &s
	}
	if e.HasChunk || e.Bare {
		c := e.Chunk
		w.Chunk = &c
	}
	if e.HasLastSeq {
		ls := e.LastSeq
		w.LastSeq = &ls
	}
	w.Error = e.Error
	w.Done = e.Done
	return json.Marshal(w)
}
