// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package discovery finds generations that are still running for a session
// when it is opened, so the view can reattach to them.
//
// The server is asked first. If it reports nothing, a heuristic over the
// loaded history decides whether the last assistant message might still be
// growing; resubscribing to a finished message costs one snapshot and an
// immediate done frame.
package discovery

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/stream"
)

// =============================================================================
// POLICY
// =============================================================================

// Default heuristic thresholds. They are empirical and tunable.
const (
	DefaultRecencyWindow    = 30 * time.Minute
	DefaultMinCompleteChars = 20
)

// Policy decides whether a message loaded from history may still be
// generating.
type Policy struct {
	// RecencyWindow treats assistant messages younger than this as
	// possibly live.
	RecencyWindow time.Duration

	// MinCompleteChars treats shorter assistant messages as possibly live.
	MinCompleteChars int
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		RecencyWindow:    DefaultRecencyWindow,
		MinCompleteChars: DefaultMinCompleteChars,
	}
}

// MaybeGenerating reports whether msg should be resubscribed defensively.
// Either condition is enough.
func (p Policy) MaybeGenerating(msg model.Message, now time.Time) bool {
	if msg.Role != model.RoleAssistant || msg.ID == "" || msg.IsPlaceholder() {
		return false
	}
	if p.RecencyWindow > 0 && !msg.CreatedAt.IsZero() && msg.Age(now) <= p.RecencyWindow {
		return true
	}
	return utf8.RuneCountInString(msg.Content) < p.MinCompleteChars
}

// =============================================================================
// DISCOVERER
// =============================================================================

// Source lists the generations the server is still running.
type Source interface {
	ActiveStreams(ctx context.Context, sessionID string) ([]api.ActiveStream, error)
}

// Starter is the stream session the discoverer reattaches.
type Starter interface {
	Start(ctx context.Context, target stream.Target) error
}

// Origin says how a decision was reached.
type Origin string

const (
	OriginJob       Origin = "job"
	OriginHeuristic Origin = "heuristic"
	OriginNone      Origin = "none"
)

// Decision is the result of one discovery run.
type Decision struct {
	Origin    Origin
	MessageID string
	LastSeq   int64
}

// Resubscribed reports whether a stream was started.
func (d Decision) Resubscribed() bool {
	return d.Origin != OriginNone
}

// Discoverer runs discovery for one session.
type Discoverer struct {
	sessionID string
	source    Source
	conv      *model.Conversation
	starter   Starter
	policy    Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a discoverer. Zero policy fields take their defaults.
func New(sessionID string, source Source, conv *model.Conversation, starter Starter, policy Policy, logger zerolog.Logger) *Discoverer {
	if policy.RecencyWindow == 0 {
		policy.RecencyWindow = DefaultRecencyWindow
	}
	if policy.MinCompleteChars == 0 {
		policy.MinCompleteChars = DefaultMinCompleteChars
	}
	return &Discoverer{
		sessionID: sessionID,
		source:    source,
		conv:      conv,
		starter:   starter,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// Run looks for a live generation and resubscribes to it. It should be
// called after the history has been loaded into the conversation. A failed
// server query falls through to the heuristic.
func (d *Discoverer) Run(ctx context.Context) (Decision, error) {
	active, err := d.source.ActiveStreams(ctx, d.sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{Origin: OriginNone}, ctx.Err()
		}
		d.logger.Warn().Err(err).Msg("DISCOVERY_QUERY_FAILED")
	}

	if job, ok := latest(active); ok {
		id := job.MessageID.String()
		if !d.conv.SetContent(id, job.Content) {
			d.conv.Add(model.Message{
				ID:        id,
				Role:      model.RoleAssistant,
				Content:   job.Content,
				CreatedAt: job.StartedAt.Time,
				Streaming: true,
			})
		}
		dec := Decision{Origin: OriginJob, MessageID: id, LastSeq: job.LastSeq}
		return d.start(ctx, dec)
	}

	if last, ok := d.conv.LastAssistant(); ok && d.policy.MaybeGenerating(last, d.now()) {
		return d.start(ctx, Decision{Origin: OriginHeuristic, MessageID: last.ID})
	}

	d.logger.Debug().Msg("DISCOVERY_NONE")
	return Decision{Origin: OriginNone}, nil
}

func (d *Discoverer) start(ctx context.Context, dec Decision) (Decision, error) {
	d.logger.Info().
		Str("origin", string(dec.Origin)).
		Str("message_id", dec.MessageID).
		Int64("last_seq", dec.LastSeq).
		Msg("DISCOVERY_RESUBSCRIBE")
	if err := d.starter.Start(ctx, stream.Resubscribe(dec.MessageID, dec.LastSeq)); err != nil {
		return Decision{Origin: OriginNone}, err
	}
	return dec, nil
}

// latest picks the most recently started generation. Later entries win
// ties.
func latest(active []api.ActiveStream) (api.ActiveStream, bool) {
	var (
		best  api.ActiveStream
		found bool
	)
	for _, a := range active {
		if a.MessageID.String() == "" {
			continue
		}
		if !found || !a.StartedAt.Before(best.StartedAt.Time) {
			best, found = a, true
		}
	}
	return best, found
}
