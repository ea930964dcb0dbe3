// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package unread

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/jeranaias/taskchat/internal/model"
)

// Default cadence.
const (
	DefaultCheckInterval  = 500 * time.Millisecond
	DefaultScrollDebounce = 100 * time.Millisecond
)

// Acker acknowledges messages on the server.
type Acker interface {
	MarkAsRead(ctx context.Context, sessionID string, messageIDs []string) (int, error)
	MarkAllAsRead(ctx context.Context) (int, error)
}

// Options tune a Tracker. Zero values take defaults.
type Options struct {
	CheckInterval  time.Duration
	ScrollDebounce time.Duration

	// AckRate and AckBurst pace acknowledgement requests. A zero rate
	// disables pacing.
	AckRate  float64
	AckBurst int

	Logger zerolog.Logger
}

// Tracker marks messages read once they have been fully visible.
//
// Checks run on a fixed interval, after scrolling settles, and when the
// view regains focus. Visible unread messages are acknowledged in one
// request; only on success are they removed from the set and flagged read
// in the conversation. A failed acknowledgement is retried on the next
// check.
type Tracker struct {
	sessionID string
	viewport  Viewport
	acker     Acker
	conv      *model.Conversation
	set       *Set
	opts      Options
	limiter   *rate.Limiter
	logger    zerolog.Logger

	inflight atomic.Bool

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	scrollTimer *time.Timer
	onAcked     func(ids []string)

	wg conc.WaitGroup
}

// NewTracker creates a tracker for one session. conv may be nil.
func NewTracker(sessionID string, viewport Viewport, acker Acker, conv *model.Conversation, opts Options) *Tracker {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.ScrollDebounce <= 0 {
		opts.ScrollDebounce = DefaultScrollDebounce
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.AckRate > 0 {
		burst := opts.AckBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.AckRate), burst)
	}
	return &Tracker{
		sessionID: sessionID,
		viewport:  viewport,
		acker:     acker,
		conv:      conv,
		set:       NewSet(),
		opts:      opts,
		limiter:   limiter,
		logger:    opts.Logger,
	}
}

// OnAcked registers fn to be called with ids after a successful
// acknowledgement.
func (t *Tracker) OnAcked(fn func(ids []string)) {
	t.mu.Lock()
	t.onAcked = fn
	t.mu.Unlock()
}

// Unread returns the ids currently unread.
func (t *Tracker) Unread() []string {
	return t.set.IDs()
}

// Len returns the number of unread ids.
func (t *Tracker) Len() int {
	return t.set.Len()
}

// MarkUnread adds id to the unread set.
func (t *Tracker) MarkUnread(id string) {
	t.set.Add(id)
}

// Reset rebuilds the unread set from ids.
func (t *Tracker) Reset(ids []string) {
	t.set.Reset(ids)
}

// Start begins periodic checks until ctx is done or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.ctx, t.cancel = ctx, cancel
	t.mu.Unlock()

	t.wg.Go(func() {
		ticker := time.NewTicker(t.opts.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.check(ctx)
			}
		}
	})
}

// Stop ends periodic checks and waits for them to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
		t.scrollTimer = nil
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// Scroll schedules a check once scrolling has been quiet for the debounce
// period.
func (t *Tracker) Scroll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx == nil || t.ctx.Err() != nil {
		return
	}
	if t.scrollTimer != nil {
		t.scrollTimer.Stop()
	}
	ctx := t.ctx
	t.scrollTimer = time.AfterFunc(t.opts.ScrollDebounce, func() {
		t.check(ctx)
	})
}

// Focus runs a check now, in the background.
func (t *Tracker) Focus() {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	t.wg.Go(func() { t.check(ctx) })
}

func (t *Tracker) check(ctx context.Context) {
	if _, err := t.Check(ctx); err != nil {
		t.logger.Debug().Err(err).Msg("UNREAD_ACK_FAILED")
	}
}

// Check acknowledges every unread message that is fully visible. It
// returns the number acknowledged. Only one check runs at a time; a call
// that overlaps another returns immediately.
func (t *Tracker) Check(ctx context.Context) (int, error) {
	if t.set.Len() == 0 {
		return 0, nil
	}
	if !t.inflight.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer t.inflight.Store(false)

	visible := t.Visible()
	if len(visible) == 0 {
		return 0, nil
	}
	if !t.limiter.Allow() {
		return 0, nil
	}

	if _, err := t.acker.MarkAsRead(ctx, t.sessionID, visible); err != nil {
		return 0, err
	}
	t.acked(visible)
	t.logger.Debug().Strs("message_ids", visible).Msg("UNREAD_ACKED")
	return len(visible), nil
}

// Visible returns the unread ids whose bounds lie fully inside the
// container.
func (t *Tracker) Visible() []string {
	container := t.viewport.Container()
	if container.Empty() {
		return nil
	}
	var out []string
	for _, id := range t.set.IDs() {
		b, ok := t.viewport.Bounds(id)
		if ok && container.Contains(b) {
			out = append(out, id)
		}
	}
	return out
}

// MarkAll acknowledges every message in every session.
func (t *Tracker) MarkAll(ctx context.Context) (int, error) {
	n, err := t.acker.MarkAllAsRead(ctx)
	if err != nil {
		return 0, err
	}
	t.acked(t.set.IDs())
	return n, nil
}

func (t *Tracker) acked(ids []string) {
	t.set.Remove(ids...)
	if t.conv != nil {
		for _, id := range ids {
			t.conv.SetRead(id, true)
		}
	}
	t.mu.Lock()
	fn := t.onAcked
	t.mu.Unlock()
	if fn != nil {
		fn(ids)
	}
}
