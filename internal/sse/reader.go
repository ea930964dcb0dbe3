// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/rs/zerolog"
)

// STREAMING: Frame splitting tolerates arbitrary read boundaries.

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

// MaxFrameSize is the default bound on a single pending frame (64KB).
const MaxFrameSize = 64 * 1024

// readChunkSize is how much is read from the transport per call.
const readChunkSize = 4 * 1024

var (
	frameSep   = []byte("\n\n")
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// ErrFrameTooLarge is returned when a frame grows past the size limit
// without a terminating blank line.
var ErrFrameTooLarge = errors.New("sse: frame exceeds maximum size")

// FrameError describes a frame that could not be decoded. The reader logs
// and skips these; the type exists so callers of Decode can inspect them.
type FrameError struct {
	Frame string
	Err   error
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %v", len(e.Frame), e.Err)
}

// Unwrap returns the underlying error.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// =============================================================================
// READER
// =============================================================================

// Reader turns a chunked response body into a finite sequence of events.
//
// Bytes are accumulated in a buffer and split on blank lines; a trailing
// partial frame is retained until the next read completes it. Malformed
// frames are logged and skipped. Reader is not safe for concurrent use.
type Reader struct {
	r        io.Reader
	buf      []byte
	chunk    []byte
	maxFrame int
	eof      bool
	logger   zerolog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for skipped frames.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// WithMaxFrameSize overrides MaxFrameSize. Non-positive values are ignored.
func WithMaxFrameSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxFrame = n
		}
	}
}

// NewReader creates a reader over r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{
		r:        r,
		chunk:    make([]byte, readChunkSize),
		maxFrame: MaxFrameSize,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Next returns the next event. It returns io.EOF once the transport is
// exhausted; an unterminated trailing frame is still decoded first.
// Transport errors are returned unchanged.
func (r *Reader) Next() (Event, error) {
	for {
		if i := bytes.Index(r.buf, frameSep); i >= 0 {
			frame := r.buf[:i]
			r.buf = r.buf[i+len(frameSep):]
			if ev, ok := r.decodeFrame(frame); ok {
				return ev, nil
			}
			continue
		}

		if r.eof {
			if len(bytes.TrimSpace(r.buf)) > 0 {
				frame := r.buf
				r.buf = nil
				if ev, ok := r.decodeFrame(frame); ok {
					return ev, nil
				}
			}
			r.buf = nil
			return Event{}, io.EOF
		}

		if len(r.buf) > r.maxFrame {
			return Event{}, ErrFrameTooLarge
		}

		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.append(r.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.eof = true
				continue
			}
			return Event{}, err
		}
	}
}

// All returns an iterator over the remaining events. Iteration stops after
// the first error other than io.EOF, which is yielded.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// append adds freshly read bytes, folding CRLF line endings so frame
// splitting only has to look for "\n\n".
func (r *Reader) append(p []byte) {
	start := len(r.buf)
	if start > 0 && r.buf[start-1] == '\r' {
		start--
	}
	r.buf = append(r.buf, p...)
	if bytes.IndexByte(r.buf[start:], '\r') >= 0 {
		tail := bytes.ReplaceAll(r.buf[start:], []byte("\r\n"), []byte("\n"))
		r.buf = append(r.buf[:start], tail...)
	}
}

func (r *Reader) decodeFrame(frame []byte) (Event, bool) {
	ev, ok, err := Decode(frame)
	if err != nil {
		r.logger.Warn().Err(err).Msg("FRAME_SKIPPED")
		return Event{}, false
	}
	return ev, ok
}

// =============================================================================
// FRAME DECODING
// =============================================================================

// Decode interprets one frame (without its terminating blank line).
//
// Lines beginning with "data:" are joined and parsed as JSON; "[DONE]" is
// accepted as a completion marker. Comment lines are ignored, and so are
// the id, event and retry fields of a data frame. A frame with no data line
// is a bare content delta whose chunk is the raw frame text. ok is false
// only for blank and comment-only frames.
func Decode(frame []byte) (ev Event, ok bool, err error) {
	if len(bytes.TrimSpace(frame)) == 0 {
		return Event{}, false, nil
	}

	var (
		data    [][]byte
		hasData bool
		hasText bool
	)
	for _, line := range bytes.Split(frame, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, dataPrefix):
			payload := line[len(dataPrefix):]
			if len(payload) > 0 && payload[0] == ' ' {
				payload = payload[1:]
			}
			data = append(data, payload)
			hasData = true
		case len(line) == 0, line[0] == ':':
		default:
			// Field lines only count when no data line follows.
			hasText = true
		}
	}

	if !hasData {
		if !hasText {
			return Event{}, false, nil
		}
		return Event{Bare: true, Chunk: string(frame), HasChunk: true}, true, nil
	}

	payload := bytes.TrimSpace(bytes.Join(data, []byte("\n")))
	if bytes.Equal(payload, doneMarker) {
		return Event{Done: true}, true, nil
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, false, &FrameError{Frame: string(frame), Err: err}
	}
	return ev, true, nil
}
