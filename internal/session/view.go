// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/discovery"
	"github.com/jeranaias/taskchat/internal/history"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/stream"
	"github.com/jeranaias/taskchat/internal/unread"
)

// ErrNotOpen is returned by operations that need Open to have succeeded.
var ErrNotOpen = errors.New("chat view is not open")

// =============================================================================
// CLIENT
// =============================================================================

// Client is everything a view needs from the backend. *api.Client
// satisfies it.
type Client interface {
	history.Source
	discovery.Source
	stream.Transport
	unread.Acker
}

var _ Client = (*api.Client)(nil)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the tunables of a view.
type Config struct {
	Stream stream.Options
	Policy discovery.Policy
	Unread unread.Options
	Logger zerolog.Logger
}

// DefaultConfig returns the default view configuration.
func DefaultConfig() Config {
	return Config{
		Policy: discovery.DefaultPolicy(),
		Unread: unread.Options{
			CheckInterval:  unread.DefaultCheckInterval,
			ScrollDebounce: unread.DefaultScrollDebounce,
		},
		Logger: zerolog.Nop(),
	}
}

// ConfigFrom maps the application config onto a view config.
func ConfigFrom(cfg *config.Config, logger zerolog.Logger) Config {
	return Config{
		Stream: stream.Options{
			CancelMarker:        cfg.Stream.CancelMarker,
			ErrorMarker:         cfg.Stream.ErrorMarker,
			AbortNotifyTimeout:  cfg.Stream.AbortNotifyTimeout,
			AbortNotifyAttempts: cfg.Stream.AbortNotifyAttempts,
			MaxFrameSize:        cfg.Stream.MaxFrameSize,
			Logger:              logger,
		},
		Policy: discovery.Policy{
			RecencyWindow:    cfg.Discovery.RecencyWindow,
			MinCompleteChars: cfg.Discovery.MinCompleteChars,
		},
		Unread: unread.Options{
			CheckInterval:  cfg.Unread.CheckInterval,
			ScrollDebounce: cfg.Unread.ScrollDebounce,
			AckRate:        cfg.Unread.AckRate,
			AckBurst:       cfg.Unread.AckBurst,
			Logger:         logger,
		},
		Logger: logger,
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View is the controller for one open chat session. It owns the displayed
// conversation and wires the history synchronizer, discovery, the stream
// session and the unread tracker together.
type View struct {
	mu sync.Mutex

	sessionID    string
	startTime    time.Time
	lastActivity time.Time

	conv      *model.Conversation
	history   *history.Synchronizer
	discovery *discovery.Discoverer
	stream    *stream.Session
	tracker   *unread.Tracker
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lastDecision discovery.Decision
}

// New creates a closed view. viewport reports message layout for unread
// tracking; badges may be nil.
func New(sessionID string, client Client, viewport unread.Viewport, badges history.BadgeSink, cfg Config) *View {
	logger := cfg.Logger.With().Str("session_id", sessionID).Logger()
	cfg.Stream.Logger = logger
	cfg.Unread.Logger = logger

	conv := model.NewConversation(sessionID)
	tracker := unread.NewTracker(sessionID, viewport, client, conv, cfg.Unread)
	hist := history.New(sessionID, client, conv, tracker, badges, logger)
	ss := stream.NewSession(sessionID, conv, client, hist, tracker, cfg.Stream)

	now := time.Now()
	return &View{
		sessionID:    sessionID,
		startTime:    now,
		lastActivity: now,
		conv:         conv,
		history:      hist,
		discovery:    discovery.New(sessionID, client, conv, ss, cfg.Policy, logger),
		stream:       ss,
		tracker:      tracker,
		logger:       logger,
	}
}

// Open loads the history, reattaches to any live generation and starts
// unread tracking. ctx bounds the life of the view.
func (v *View) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.ctx != nil {
		v.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	v.ctx, v.cancel = ctx, cancel
	v.mu.Unlock()

	if _, err := v.history.Load(ctx); err != nil {
		v.mu.Lock()
		v.ctx, v.cancel = nil, nil
		v.mu.Unlock()
		cancel()
		return err
	}

	dec, err := v.discovery.Run(ctx)
	if err != nil {
		v.logger.Warn().Err(err).Msg("DISCOVERY_FAILED")
	}
	v.mu.Lock()
	v.lastDecision = dec
	v.mu.Unlock()

	v.tracker.Start(ctx)
	v.logger.Info().Int("messages", v.conv.Len()).Str("discovery", string(dec.Origin)).Msg("VIEW_OPENED")
	return nil
}

// Close stops following any live stream and stops background work. A
// generation still running on the server is left alone, so a later Open
// can pick it up.
func (v *View) Close() {
	v.stream.Close()
	v.tracker.Stop()

	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (v *View) context() (context.Context, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ctx == nil || v.ctx.Err() != nil {
		return nil, ErrNotOpen
	}
	return v.ctx, nil
}

// =============================================================================
// USER ACTIONS
// =============================================================================

// Send submits text as a new user message and streams the reply.
func (v *View) Send(text string) error {
	ctx, err := v.context()
	if err != nil {
		return err
	}
	v.RecordActivity()
	return v.stream.Start(ctx, stream.NewMessage(text))
}

// Cancel stops the live stream, if any.
func (v *View) Cancel() bool {
	v.RecordActivity()
	return v.stream.Abort()
}

// Resume reattaches to the last bound generation if nothing is live.
func (v *View) Resume() bool {
	ctx, err := v.context()
	if err != nil {
		return false
	}
	return v.stream.Resume(ctx)
}

// Focus handles the view regaining focus or visibility: it resumes a
// dropped stream and checks for newly visible messages.
func (v *View) Focus() {
	v.RecordActivity()
	v.Resume()
	v.tracker.Focus()
}

// Scroll reports that the message list moved.
func (v *View) Scroll() {
	v.RecordActivity()
	v.tracker.Scroll()
}

// MarkAllRead acknowledges every unread message across sessions.
func (v *View) MarkAllRead(ctx context.Context) (int, error) {
	v.RecordActivity()
	return v.tracker.MarkAll(ctx)
}

// Sync re-reads the durable history.
func (v *View) Sync(ctx context.Context) error {
	return v.history.Sync(ctx)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// SessionID returns the session this view shows.
func (v *View) SessionID() string {
	return v.sessionID
}

// Conversation returns the displayed message list.
func (v *View) Conversation() *model.Conversation {
	return v.conv
}

// Stream returns the stream session.
func (v *View) Stream() *stream.Session {
	return v.stream
}

// Unread returns the ids still unread.
func (v *View) Unread() []string {
	return v.tracker.Unread()
}

// =============================================================================
// CALLBACKS
// =============================================================================

// SetChangeCallback sets the function called on every conversation change.
func (v *View) SetChangeCallback(fn func(model.Change)) {
	v.conv.SetObserver(fn)
}

// SetPhaseCallback sets the function called on stream phase changes.
func (v *View) SetPhaseCallback(fn func(stream.Phase)) {
	v.stream.OnPhase(fn)
}

// SetAckCallback sets the function called when messages are acknowledged.
func (v *View) SetAckCallback(fn func(ids []string)) {
	v.tracker.OnAcked(fn)
}

// =============================================================================
// ACTIVITY TRACKING
// =============================================================================

// RecordActivity updates the last activity timestamp.
func (v *View) RecordActivity() {
	v.mu.Lock()
	v.lastActivity = time.Now()
	v.mu.Unlock()
}

// IdleTime returns how long since last activity.
func (v *View) IdleTime() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Since(v.lastActivity)
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the current view status.
type Status struct {
	SessionID   string
	Title       string
	Phase       stream.Phase
	Outcome     stream.Phase
	AssistantID string
	LastSeq     int64
	Messages    int
	Unread      int
	Discovery   discovery.Origin
	Duration    time.Duration
	IdleTime    time.Duration
	LastError   error
}

// Status returns the current view status.
func (v *View) Status() Status {
	snap := v.stream.State()

	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	return Status{
		SessionID:   v.sessionID,
		Title:       v.history.Title(),
		Phase:       v.stream.Phase(),
		Outcome:     v.stream.Outcome(),
		AssistantID: snap.AssistantID,
		LastSeq:     snap.LastSeq,
		Messages:    v.conv.Len(),
		Unread:      v.tracker.Len(),
		Discovery:   v.lastDecision.Origin,
		Duration:    now.Sub(v.startTime),
		IdleTime:    now.Sub(v.lastActivity),
		LastError:   v.stream.Err(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
}
