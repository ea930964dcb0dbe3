// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCanceled is the cancellation cause of a job stopped by a client.
var ErrCanceled = errors.New("generation canceled")

// =============================================================================
// JOB STATUS
// =============================================================================

// Status represents the current state of a generation job.
type Status string

const (
	// StatusRunning indicates the job is producing chunks
	StatusRunning Status = "Running"

	// StatusComplete indicates the job finished successfully
	StatusComplete Status = "Complete"

	// StatusFailed indicates the generator returned an error
	StatusFailed Status = "Failed"

	// StatusCanceled indicates a client stopped the job
	StatusCanceled Status = "Canceled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no more chunks will be produced.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCanceled
}

// =============================================================================
// JOB STRUCTURE
// =============================================================================

// Chunk is one sequence-numbered piece of generated text. Sequence numbers
// start at 1 and increase by one per chunk.
type Chunk struct {
	Seq  int64
	Text string
}

// subscriberBuffer bounds how far a subscriber may lag before it is cut
// off. A cut-off client reconnects with its last sequence number.
const subscriberBuffer = 256

// Job is one assistant reply being generated in the background. It
// outlives the HTTP request that started it.
type Job struct {
	ID        string
	SessionID string
	MessageID string

	mu        sync.RWMutex
	status    Status
	startTime time.Time
	endTime   time.Time
	content   strings.Builder
	seq       int64
	err       string
	cancel    context.CancelCauseFunc
	subs      map[int]chan Chunk
	nextSub   int
	done      chan struct{}
}

func newJob(sessionID, messageID string, cancel context.CancelCauseFunc) *Job {
	return &Job{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		MessageID: messageID,
		status:    StatusRunning,
		startTime: time.Now(),
		cancel:    cancel,
		subs:      make(map[int]chan Chunk),
		done:      make(chan struct{}),
	}
}

// =============================================================================
// JOB METHODS
// =============================================================================

// Append records text as the next chunk and fans it out to subscribers.
// It returns false once the job has finished.
func (j *Job) Append(text string) (Chunk, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return Chunk{}, false
	}
	j.seq++
	j.content.WriteString(text)
	c := Chunk{Seq: j.seq, Text: text}

	for id, ch := range j.subs {
		select {
		case ch <- c:
		default:
			close(ch)
			delete(j.subs, id)
		}
	}
	return c, true
}

// finish moves the job to a terminal status and releases subscribers.
// Only the first call has any effect.
func (j *Job) finish(status Status, err error) bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.status = status
	j.endTime = time.Now()
	if err != nil {
		j.err = err.Error()
	}
	for id, ch := range j.subs {
		close(ch)
		delete(j.subs, id)
	}
	close(j.done)
	j.mu.Unlock()
	return true
}

// Cancel stops the job. It reports false if the job had already finished.
func (j *Job) Cancel() bool {
	if !j.finish(StatusCanceled, nil) {
		return false
	}
	j.cancel(ErrCanceled)
	return true
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the failure message of a failed job.
func (j *Job) Err() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Snapshot returns the full text so far and the sequence number it covers.
func (j *Job) Snapshot() (string, int64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.content.String(), j.seq
}

// Duration returns how long the job has been running or took to finish.
func (j *Job) Duration() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.endTime.IsZero() {
		return time.Since(j.startTime)
	}
	return j.endTime.Sub(j.startTime)
}

// finishedBefore reports whether the job ended before t.
func (j *Job) finishedBefore(t time.Time) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status.Terminal() && j.endTime.Before(t)
}

// Summary returns a one-line summary of the job.
func (j *Job) Summary() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return fmt.Sprintf("[%s] message %s - %s (seq %d, %d chars)",
		j.ID[:8], j.MessageID, j.status, j.seq, j.content.Len())
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Info is a point-in-time copy of a job for listing.
type Info struct {
	ID        string
	SessionID string
	MessageID string
	Status    Status
	StartedAt time.Time
	Content   string
	LastSeq   int64
	Error     string
}

// Info returns a copy of the job's state.
func (j *Job) Info() Info {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Info{
		ID:        j.ID,
		SessionID: j.SessionID,
		MessageID: j.MessageID,
		Status:    j.status,
		StartedAt: j.startTime,
		Content:   j.content.String(),
		LastSeq:   j.seq,
		Error:     j.err,
	}
}

// Subscription follows a job from a known point.
type Subscription struct {
	// Content and Seq are the job's text and sequence at subscribe time.
	Content string
	Seq     int64

	// Status is the job's status at subscribe time.
	Status Status

	// C delivers every chunk after Seq. It is closed when the job finishes
	// or the subscriber falls too far behind. It is nil if the job had
	// already finished.
	C <-chan Chunk

	close func()
}

// Close detaches the subscription.
func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
	}
}

// Subscribe atomically takes a snapshot and attaches to live chunks, so
// nothing is missed or repeated between the two.
func (j *Job) Subscribe() *Subscription {
	j.mu.Lock()
	defer j.mu.Unlock()

	sub := &Subscription{
		Content: j.content.String(),
		Seq:     j.seq,
		Status:  j.status,
	}
	if j.status.Terminal() {
		return sub
	}

	id := j.nextSub
	j.nextSub++
	ch := make(chan Chunk, subscriberBuffer)
	j.subs[id] = ch
	sub.C = ch
	sub.close = func() {
		j.mu.Lock()
		if c, ok := j.subs[id]; ok {
			close(c)
			delete(j.subs, id)
		}
		j.mu.Unlock()
	}
	return sub
}
