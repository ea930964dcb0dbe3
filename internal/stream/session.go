// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/sse"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the lifecycle state of a stream session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseStreaming
	PhaseCompleted
	PhaseAborted
	PhaseErrored
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	case PhaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Busy reports whether the phase has a live read loop.
func (p Phase) Busy() bool {
	return p == PhaseStarting || p == PhaseStreaming
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrStreamClosed is reported when the transport ends without a done frame.
var ErrStreamClosed = errors.New("stream closed before completion")

// StreamError represents a failure while following a stream, preserving
// the content rendered before the failure.
type StreamError struct {
	MessageID string
	Partial   string
	Err       error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// TARGETS
// =============================================================================

// Target says what a stream session should follow: either a new user
// message, or an existing assistant message to resubscribe to.
type Target struct {
	Message     string
	AssistantID string
	LastSeq     int64
}

// NewMessage targets a fresh generation for text.
func NewMessage(text string) Target {
	return Target{Message: text}
}

// Resubscribe targets an existing assistant message, replaying from after
// lastSeq.
func Resubscribe(assistantID string, lastSeq int64) Target {
	return Target{AssistantID: assistantID, LastSeq: lastSeq}
}

// IsResubscribe reports whether the target names an existing message.
func (t Target) IsResubscribe() bool {
	return t.AssistantID != ""
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Transport opens and cancels streams on the backend.
type Transport interface {
	OpenStream(ctx context.Context, req api.StreamRequest) (io.ReadCloser, error)
	AbortStream(ctx context.Context, sessionID, messageID string) error
}

// Syncer re-reads durable history into the conversation.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Options tune a Session. Zero values take defaults.
type Options struct {
	CancelMarker        string
	ErrorMarker         string
	AbortNotifyTimeout  time.Duration
	AbortNotifyAttempts uint
	MaxFrameSize        int
	Logger              zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.CancelMarker == "" {
		o.CancelMarker = "\n\n[cancelled]"
	}
	if o.ErrorMarker == "" {
		o.ErrorMarker = "[error: %s]"
	}
	if o.AbortNotifyTimeout <= 0 {
		o.AbortNotifyTimeout = 5 * time.Second
	}
	if o.AbortNotifyAttempts == 0 {
		o.AbortNotifyAttempts = 3
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = sse.MaxFrameSize
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session owns the single live stream of one chat view.
//
// It moves Idle -> Starting -> Streaming -> {Completed, Aborted, Errored}
// and back to Idle. Starting a new stream first aborts the current one, so
// at most one read loop exists per Session. Cancellation is cooperative:
// Abort cancels the loop's context with ErrAborted, Detach with
// ErrDetached, and the loop stops within one read.
type Session struct {
	sessionID string
	conv      *model.Conversation
	transport Transport
	syncer    Syncer
	unread    UnreadMarker
	opts      Options
	logger    zerolog.Logger

	state State

	mu        sync.Mutex
	phase     Phase
	outcome   Phase
	lastErr   error
	displayID string
	done      chan struct{}
	observers []func(Phase)

	// applyMu serialises reconciler steps against the abort marker.
	applyMu sync.Mutex

	notify conc.WaitGroup
}

// NewSession creates an idle session for sessionID. syncer and unread may
// be nil.
func NewSession(sessionID string, conv *model.Conversation, transport Transport, syncer Syncer, unread UnreadMarker, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		sessionID: sessionID,
		conv:      conv,
		transport: transport,
		syncer:    syncer,
		unread:    unread,
		opts:      opts,
		logger:    opts.Logger.With().Str("session_id", sessionID).Logger(),
	}
}

// OnPhase registers fn to be called on every phase change. Callbacks run
// on the goroutine that caused the change and must not block.
func (s *Session) OnPhase(fn func(Phase)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Outcome returns the terminal phase of the most recent stream, or
// PhaseIdle if none has finished.
func (s *Session) Outcome() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Err returns the error of the most recent Errored stream.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// State returns a snapshot of the stream state.
func (s *Session) State() Snapshot {
	return s.state.Snapshot()
}

// DisplayID returns the id of the message the current or last stream
// rendered into.
func (s *Session) DisplayID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayID
}

// Start begins following target. ctx bounds the read loop and should live
// as long as the view. Any live stream is aborted first, unless target
// resubscribes to the message already being streamed, in which case Start
// does nothing. Start must not be called from an OnPhase callback.
func (s *Session) Start(ctx context.Context, target Target) error {
	if !target.IsResubscribe() && target.Message == "" {
		return errors.New("stream target needs a message or an assistant id")
	}

	s.mu.Lock()
	if target.IsResubscribe() && s.phase.Busy() && s.state.AssistantID() == target.AssistantID {
		s.mu.Unlock()
		s.logger.Debug().Str("message_id", target.AssistantID).Msg("STREAM_START_NOOP")
		return nil
	}
	prev := s.done
	s.mu.Unlock()

	// A finishing loop may still be running its history sync.
	s.Abort()
	if prev != nil {
		<-prev
	}

	req := api.StreamRequest{SessionID: s.sessionID}
	var displayID string
	if target.IsResubscribe() {
		s.state.Reset(target.AssistantID, target.LastSeq)
		displayID = target.AssistantID
		if !s.conv.SetStreaming(displayID, true) {
			s.conv.Add(model.Message{
				ID:        displayID,
				Role:      model.RoleAssistant,
				CreatedAt: time.Now(),
				Streaming: true,
			})
		}
		req.AssistantMessageID = model.FlexID(target.AssistantID)
		lastSeq := s.state.LastSeq()
		req.LastSeq = &lastSeq
	} else {
		s.state.Reset("", 0)
		s.conv.Add(model.NewUserMessage(target.Message))
		placeholder := model.NewAssistantPlaceholder()
		s.conv.Add(placeholder)
		displayID = placeholder.ID
		req.Message = target.Message
	}

	loopCtx, cancel := context.WithCancelCause(ctx)
	gen := s.state.activate(cancel)
	done := make(chan struct{})

	s.mu.Lock()
	s.displayID = displayID
	s.done = done
	s.lastErr = nil
	s.mu.Unlock()
	s.setPhase(PhaseStarting)

	s.logger.Info().
		Str("message_id", displayID).
		Bool("resubscribe", target.IsResubscribe()).
		Int64("last_seq", s.state.LastSeq()).
		Msg("STREAM_START")

	go s.run(loopCtx, gen, req, displayID, done)
	return nil
}

// Resume resubscribes to the bound assistant message if no stream is
// live. It is called when the view regains focus or visibility. It reports
// whether a stream was started.
func (s *Session) Resume(ctx context.Context) bool {
	snap := s.state.Snapshot()
	if snap.Active || snap.AssistantID == "" {
		return false
	}
	s.logger.Debug().Str("message_id", snap.AssistantID).Int64("last_seq", snap.LastSeq).Msg("STREAM_RESUME")
	return s.Start(ctx, Resubscribe(snap.AssistantID, snap.LastSeq)) == nil
}

// Abort stops the live stream. It is safe to call repeatedly; calls with
// nothing live do nothing and return false. The in-flight message gets the
// cancellation marker, the server is notified in the background, and the
// assistant id and sequence are kept for a later Resume.
func (s *Session) Abort() bool {
	if !s.state.Abort() {
		return false
	}

	// The loop's context is already cancelled, so any step that takes
	// applyMu after this point sees it and stops. A step already holding
	// it may rename the message, so the id is read afterwards.
	s.applyMu.Lock()
	displayID := s.DisplayID()
	s.conv.Append(displayID, s.opts.CancelMarker)
	s.conv.SetStreaming(displayID, false)
	s.applyMu.Unlock()

	s.logger.Info().Str("message_id", displayID).Msg("STREAM_ABORTED")
	s.finishPhase(PhaseAborted, nil)

	if id := s.state.AssistantID(); id != "" {
		s.notifyAbort(id)
	}
	return true
}

// Detach stops following the live stream without cancelling the
// generation. The message is left as received so far, the server is not
// notified, and the assistant id and sequence are kept for a later Resume
// or discovery. It reports whether a stream was live.
func (s *Session) Detach() bool {
	if !s.state.Detach() {
		return false
	}

	s.applyMu.Lock()
	displayID := s.DisplayID()
	s.conv.SetStreaming(displayID, false)
	s.applyMu.Unlock()

	s.logger.Info().Str("message_id", displayID).Msg("STREAM_DETACHED")
	s.setPhase(PhaseIdle)
	return true
}

// Wait blocks until the current read loop, if any, has exited.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close detaches from any live stream and waits for background work to
// finish. The generation keeps running on the server.
func (s *Session) Close() {
	s.Detach()
	s.Wait()
	s.notify.Wait()
}

// =============================================================================
// READ LOOP
// =============================================================================

func (s *Session) run(ctx context.Context, gen uint64, req api.StreamRequest, displayID string, done chan struct{}) {
	defer close(done)

	body, err := s.transport.OpenStream(ctx, req)
	if err != nil {
		s.fail(ctx, gen, displayID, err)
		return
	}
	defer body.Close()

	if ctx.Err() != nil {
		return
	}
	s.setPhase(PhaseStreaming)

	rd := sse.NewReader(body, sse.WithLogger(s.logger), sse.WithMaxFrameSize(s.opts.MaxFrameSize))
	rec := NewReconciler(&s.state, s.conv, displayID, s.unread, s.opts.ErrorMarker, s.logger)

	for {
		ev, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			s.fail(ctx, gen, rec.DisplayID(), err)
			return
		}

		s.applyMu.Lock()
		if ctx.Err() != nil {
			s.applyMu.Unlock()
			return
		}
		out := rec.Apply(ev)
		if out.Has(KindIdentity) {
			s.mu.Lock()
			s.displayID = rec.DisplayID()
			s.mu.Unlock()
		}
		s.applyMu.Unlock()

		if out.Done() {
			s.complete(ctx, gen, rec.DisplayID())
			return
		}
	}
}

// complete handles a done frame: settle the message, release the loop,
// then re-read durable history.
func (s *Session) complete(ctx context.Context, gen uint64, displayID string) {
	s.conv.SetStreaming(displayID, false)
	if !s.state.deactivate(gen) {
		return
	}
	s.state.ClearIdentity()

	if s.syncer != nil {
		if err := s.syncer.Sync(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("HISTORY_RESYNC_FAILED")
		}
	}

	s.logger.Info().Str("message_id", displayID).Msg("STREAM_COMPLETED")
	s.finishPhase(PhaseCompleted, nil)
}

// fail handles a transport failure. An abort or detach is recognised by
// the context cause and has already been handled.
func (s *Session) fail(ctx context.Context, gen uint64, displayID string, err error) {
	if cause := context.Cause(ctx); errors.Is(cause, ErrAborted) || errors.Is(cause, ErrDetached) {
		return
	}
	ownerGone := ctx.Err() != nil
	if !s.state.deactivate(gen) {
		return
	}
	if ownerGone {
		// The owning view went away; leave the message for a later resume.
		s.conv.SetStreaming(displayID, false)
		s.finishPhase(PhaseAborted, nil)
		return
	}

	partial, _ := s.conv.Get(displayID)
	s.conv.SetStreaming(displayID, false)

	serr := &StreamError{MessageID: displayID, Partial: partial.Content, Err: err}
	s.logger.Warn().Err(err).Str("message_id", displayID).Msg("STREAM_ERRORED")
	s.finishPhase(PhaseErrored, serr)
}

// =============================================================================
// PHASE BOOKKEEPING
// =============================================================================

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(p)
	}
}

// finishPhase records a terminal phase, then returns to Idle.
func (s *Session) finishPhase(terminal Phase, err error) {
	s.mu.Lock()
	s.outcome = terminal
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()

	s.setPhase(terminal)
	s.setPhase(PhaseIdle)
}

// notifyAbort tells the server to stop generating, in the background.
// Failures are logged and otherwise ignored.
func (s *Session) notifyAbort(messageID string) {
	s.notify.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.AbortNotifyTimeout)
		defer cancel()

		err := retry.Do(
			func() error { return s.transport.AbortStream(ctx, s.sessionID, messageID) },
			retry.Context(ctx),
			retry.Attempts(s.opts.AbortNotifyAttempts),
			retry.Delay(100*time.Millisecond),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool { return !errors.Is(err, api.ErrNotFound) }),
		)
		if err != nil {
			s.logger.Debug().Err(err).Str("message_id", messageID).Msg("ABORT_NOTIFY_FAILED")
		}
	})
}
