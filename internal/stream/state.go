// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrAborted is the cancellation cause recorded when the user stops a
// stream. Transport failures carry any other cause.
var ErrAborted = errors.New("stream aborted by user")

// ErrDetached is the cancellation cause recorded when the view stops
// following a stream without cancelling the generation.
var ErrDetached = errors.New("stream detached")

// =============================================================================
// STREAM STATE
// =============================================================================

// State is the per-view record of the stream being followed: which
// assistant message it belongs to, the highest sequence number applied,
// and the cancel handle of the live read loop.
//
// Active() is true exactly when a cancel handle is held.
type State struct {
	mu          sync.Mutex
	assistantID string
	lastSeq     int64
	cancel      context.CancelCauseFunc
	gen         uint64
}

// Snapshot is a point-in-time copy of a State.
type Snapshot struct {
	AssistantID string
	LastSeq     int64
	Active      bool
}

// AssistantID returns the bound assistant message id, or "".
func (s *State) AssistantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistantID
}

// LastSeq returns the highest sequence number applied.
func (s *State) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Active reports whether a read loop is live.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Snapshot returns a consistent copy of all fields.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{AssistantID: s.assistantID, LastSeq: s.lastSeq, Active: s.cancel != nil}
}

// BindIdentity binds id if no assistant id is bound yet. It reports whether
// the binding happened.
func (s *State) BindIdentity(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assistantID != "" {
		return false
	}
	s.assistantID = id
	return true
}

// ApplyDelta advances the sequence to seq if it is newer than anything
// applied so far. It reports false for stale or duplicate deltas, which must
// be dropped. Gaps are accepted.
func (s *State) ApplyDelta(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}

// ReplaceSnapshot sets the sequence unconditionally. A snapshot is
// authoritative even if it moves the sequence backwards.
func (s *State) ReplaceSnapshot(seq int64) {
	s.mu.Lock()
	s.lastSeq = seq
	s.mu.Unlock()
}

// Reset points the state at a new target. It does not touch the cancel
// handle.
func (s *State) Reset(assistantID string, lastSeq int64) {
	s.mu.Lock()
	s.assistantID = assistantID
	if lastSeq < 0 {
		lastSeq = 0
	}
	s.lastSeq = lastSeq
	s.mu.Unlock()
}

// ClearIdentity forgets the bound assistant id once its message is final.
func (s *State) ClearIdentity() {
	s.mu.Lock()
	s.assistantID = ""
	s.lastSeq = 0
	s.mu.Unlock()
}

// Abort cancels the live read loop with ErrAborted. Calling it with no
// active loop does nothing. The assistant id and sequence are retained so
// the stream can be resubscribed later. It reports whether a loop was
// cancelled.
func (s *State) Abort() bool {
	return s.stop(ErrAborted)
}

// Detach cancels the live read loop with ErrDetached. Like Abort it keeps
// the assistant id and sequence.
func (s *State) Detach() bool {
	return s.stop(ErrDetached)
}

func (s *State) stop(cause error) bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.gen++
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel(cause)
	return true
}

// activate installs the cancel handle of a new read loop and returns its
// generation.
func (s *State) activate(cancel context.CancelCauseFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.cancel = cancel
	return s.gen
}

// deactivate releases the cancel handle if gen is still current, cancelling
// the finished loop's context. It reports false when the loop was
// superseded by Abort or a newer activation.
func (s *State) deactivate(gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel(nil)
	return true
}
