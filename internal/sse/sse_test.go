// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, rd *Reader) []Event {
	t.Helper()
	var out []Event
	for ev, err := range rd.All() {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

// =============================================================================
// READER
// =============================================================================

func TestReader_SplitsFrames(t *testing.T) {
	body := "data: {\"message_id\":42}\n\n" +
		"data: {\"seq\":1,\"chunk\":\"Hel\"}\n\n" +
		"data: {\"seq\":2,\"chunk\":\"lo\"}\n\n" +
		"data: {\"done\":true}\n\n"

	events := collect(t, NewReader(strings.NewReader(body)))
	require.Len(t, events, 4)

	assert.Equal(t, "42", events[0].MessageID)
	assert.True(t, events[1].HasSeq)
	assert.EqualValues(t, 1, events[1].Seq)
	assert.Equal(t, "Hel", events[1].Chunk)
	assert.Equal(t, "lo", events[2].Chunk)
	assert.True(t, events[3].Done)
}

func TestReader_RetainsPartialAcrossReads(t *testing.T) {
	body := "data: {\"seq\":1,\"chunk\":\"héllo wörld\"}\n\ndata: {\"seq\":2,\"chunk\":\"!\"}\n\n"

	// One byte per Read exercises every possible split point.
	events := collect(t, NewReader(iotest.OneByteReader(strings.NewReader(body))))
	require.Len(t, events, 2)
	assert.Equal(t, "héllo wörld", events[0].Chunk)
	assert.Equal(t, "!", events[1].Chunk)
}

func TestReader_SkipsMalformedFrames(t *testing.T) {
	var logBuf bytes.Buffer
	logger := zerolog.New(&logBuf)

	body := "data: {\"seq\":1,\"chunk\":\"a\"}\n\n" +
		"data: {not json\n\n" +
		"data: {\"seq\":2,\"chunk\":\"b\"}\n\n"

	events := collect(t, NewReader(strings.NewReader(body), WithLogger(logger)))
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Chunk)
	assert.Equal(t, "b", events[1].Chunk)
	assert.Contains(t, logBuf.String(), "FRAME_SKIPPED")
}

func TestReader_BareFrameIsDelta(t *testing.T) {
	events := collect(t, NewReader(strings.NewReader("plain text\n\n")))
	require.Len(t, events, 1)
	assert.True(t, events[0].Bare)
	assert.Equal(t, "plain text", events[0].Chunk)
	assert.False(t, events[0].HasSeq)
}

func TestReader_TrailingFrameAtEOF(t *testing.T) {
	events := collect(t, NewReader(strings.NewReader("data: {\"done\":true}")))
	require.Len(t, events, 1)
	assert.True(t, events[0].Done)
}

func TestReader_CRLFAndComments(t *testing.T) {
	body := ": keep-alive\r\n\r\nevent: chunk\r\ndata: {\"chunk\":\"x\"}\r\n\r\ndata: [DONE]\r\n\r\n"
	events := collect(t, NewReader(iotest.HalfReader(strings.NewReader(body))))
	require.Len(t, events, 2)
	assert.Equal(t, "x", events[0].Chunk)
	assert.True(t, events[1].Done)
}

func TestReader_FrameTooLarge(t *testing.T) {
	body := "data: " + strings.Repeat("x", 256)
	rd := NewReader(strings.NewReader(body), WithMaxFrameSize(64))

	_, err := rd.Next()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReader_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: {\"seq\":1,\"chunk\":\"a\"}\n\n"), iotest.ErrReader(boom))
	rd := NewReader(r)

	ev, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Chunk)

	_, err = rd.Next()
	assert.ErrorIs(t, err, boom)
}

// =============================================================================
// DECODE
// =============================================================================

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		ok    bool
		check func(t *testing.T, ev Event)
	}{
		{"blank", "  ", false, nil},
		{"comment only", ": ping", false, nil},
		{"field only", "id: 3", true, func(t *testing.T, ev Event) {
			assert.True(t, ev.Bare)
			assert.Equal(t, "id: 3", ev.Chunk)
		}},
		{"comment and text", ": note\nhello", true, func(t *testing.T, ev Event) {
			assert.True(t, ev.Bare)
			assert.Equal(t, ": note\nhello", ev.Chunk)
		}},
		{"string id", `data: {"message_id":"m-1"}`, true, func(t *testing.T, ev Event) {
			assert.Equal(t, "m-1", ev.MessageID)
		}},
		{"snapshot", `data: {"initial":true,"initial_chunk":"Hello","last_seq":5}`, true, func(t *testing.T, ev Event) {
			assert.True(t, ev.Initial)
			assert.Equal(t, "Hello", ev.InitialChunk)
			assert.EqualValues(t, 5, ev.SnapshotSeq())
		}},
		{"object error", `data: {"error":{"code":500}}`, true, func(t *testing.T, ev Event) {
			assert.Equal(t, `{"code":500}`, ev.Error)
		}},
		{"false error", `data: {"error":false,"chunk":""}`, true, func(t *testing.T, ev Event) {
			assert.Empty(t, ev.Error)
			assert.True(t, ev.HasChunk)
		}},
		{"seq zero", `data: {"seq":0,"chunk":"a"}`, true, func(t *testing.T, ev Event) {
			assert.True(t, ev.HasSeq)
			assert.Zero(t, ev.Seq)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.check != nil {
				tt.check(t, ev)
			}
		})
	}

	_, _, err := Decode([]byte("data: [1,2]"))
	var fe *FrameError
	assert.True(t, errors.As(err, &fe))
}

// =============================================================================
// WRITER
// =============================================================================

func TestWriter_FramesReadBack(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent(Event{MessageID: "42"}))
	require.NoError(t, w.WriteEvent(Event{Initial: true, InitialChunk: "He", LastSeq: 2, HasLastSeq: true}))
	require.NoError(t, w.WriteEvent(Event{Seq: 3, HasSeq: true, Chunk: "llo", HasChunk: true}))
	require.NoError(t, w.WriteComment("ping"))
	require.NoError(t, w.WriteEvent(Event{Done: true}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Contains(t, rec.Body.String(), `data: {"message_id":42}`)

	events := collect(t, NewReader(rec.Body))
	require.Len(t, events, 4)
	assert.Equal(t, "42", events[0].MessageID)
	assert.Equal(t, "He", events[1].InitialChunk)
	assert.EqualValues(t, 3, events[2].Seq)
	assert.True(t, events[3].Done)
}
