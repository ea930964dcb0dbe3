// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/sse"
)

// =============================================================================
// OUTCOME
// =============================================================================

// Kind names one effect a frame had.
type Kind uint8

const (
	KindIdentity Kind = 1 << iota
	KindError
	KindSnapshot
	KindDelta
	KindStale
	KindLegacy
	KindDone
)

var kindNames = []struct {
	k    Kind
	name string
}{
	{KindIdentity, "identity"},
	{KindError, "error"},
	{KindSnapshot, "snapshot"},
	{KindDelta, "delta"},
	{KindStale, "stale"},
	{KindLegacy, "legacy"},
	{KindDone, "done"},
}

// String lists the set kinds, e.g. "identity|delta".
func (k Kind) String() string {
	var parts []string
	for _, kn := range kindNames {
		if k&kn.k != 0 {
			parts = append(parts, kn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Outcome reports what applying one event did.
type Outcome struct {
	Kinds Kind

	// Error holds the server's error text for KindError.
	Error string
}

// Has reports whether k was applied.
func (o Outcome) Has(k Kind) bool {
	return o.Kinds&k != 0
}

// Done reports whether the event completed the stream.
func (o Outcome) Done() bool {
	return o.Has(KindDone)
}

// =============================================================================
// RECONCILER
// =============================================================================

// UnreadMarker is told about assistant messages that became unread.
type UnreadMarker interface {
	MarkUnread(id string)
}

// Reconciler applies decoded events to the displayed message and the
// stream state. It is driven by a single read loop.
type Reconciler struct {
	state       *State
	conv        *model.Conversation
	unread      UnreadMarker
	errorMarker string
	displayID   string
	logger      zerolog.Logger
}

// NewReconciler creates a reconciler that renders into the message
// displayID of conv. unread may be nil.
func NewReconciler(state *State, conv *model.Conversation, displayID string, unread UnreadMarker, errorMarker string, logger zerolog.Logger) *Reconciler {
	if errorMarker == "" {
		errorMarker = "[error: %s]"
	}
	return &Reconciler{
		state:       state,
		conv:        conv,
		unread:      unread,
		errorMarker: errorMarker,
		displayID:   displayID,
		logger:      logger,
	}
}

// DisplayID returns the id of the message being rendered into. It changes
// once, when a placeholder is renamed on identity.
func (r *Reconciler) DisplayID() string {
	return r.displayID
}

// Apply applies one event. Within a frame the effects are applied in a
// fixed order: identity, error, snapshot, delta (or legacy chunk), done.
func (r *Reconciler) Apply(ev sse.Event) Outcome {
	var out Outcome

	if ev.MessageID != "" {
		if r.bind(ev.MessageID) {
			out.Kinds |= KindIdentity
		}
	}

	if ev.Error != "" {
		r.conv.SetContent(r.displayID, r.formatError(ev.Error))
		out.Kinds |= KindError
		out.Error = ev.Error
		r.logger.Warn().Str("message_id", r.displayID).Str("error", ev.Error).Msg("STREAM_SERVER_ERROR")
	}

	switch {
	case ev.Initial:
		r.conv.SetContent(r.displayID, ev.InitialChunk)
		r.state.ReplaceSnapshot(ev.SnapshotSeq())
		out.Kinds |= KindSnapshot

	case ev.HasSeq:
		if r.state.ApplyDelta(ev.Seq) {
			if ev.Chunk != "" {
				r.conv.Append(r.displayID, ev.Chunk)
			}
			out.Kinds |= KindDelta
		} else {
			out.Kinds |= KindStale
			r.logger.Trace().Int64("seq", ev.Seq).Int64("last_seq", r.state.LastSeq()).Msg("DELTA_STALE")
		}

	case ev.HasChunk:
		if ev.Chunk != "" {
			r.conv.Append(r.displayID, ev.Chunk)
		}
		out.Kinds |= KindLegacy
	}

	if ev.Done {
		out.Kinds |= KindDone
	}
	return out
}

// bind handles an identity event. The displayed placeholder, if any, is
// renamed to the server id in one step and the message is marked unread.
func (r *Reconciler) bind(id string) bool {
	if !r.state.BindIdentity(id) {
		if bound := r.state.AssistantID(); bound != id {
			r.logger.Warn().Str("bound", bound).Str("event", id).Msg("IDENTITY_MISMATCH")
		}
		return false
	}

	switch {
	case r.displayID == id:
	case r.displayID != "" && model.IsPlaceholderID(r.displayID) && r.conv.Rename(r.displayID, id):
	default:
		if !r.conv.Has(id) {
			r.conv.Add(model.Message{
				ID:        id,
				Role:      model.RoleAssistant,
				CreatedAt: time.Now(),
				Streaming: true,
			})
		}
	}
	r.displayID = id

	r.conv.SetRead(id, false)
	if r.unread != nil {
		r.unread.MarkUnread(id)
	}
	r.logger.Debug().Str("message_id", id).Msg("IDENTITY_BOUND")
	return true
}

func (r *Reconciler) formatError(msg string) string {
	if strings.Contains(r.errorMarker, "%s") {
		return fmt.Sprintf(r.errorMarker, msg)
	}
	return r.errorMarker
}
