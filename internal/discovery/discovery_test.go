// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/stream"
)

type fakeSource struct {
	active []api.ActiveStream
	err    error
}

func (f *fakeSource) ActiveStreams(context.Context, string) ([]api.ActiveStream, error) {
	return f.active, f.err
}

type fakeStarter struct{ targets []stream.Target }

func (f *fakeStarter) Start(_ context.Context, t stream.Target) error {
	f.targets = append(f.targets, t)
	return nil
}

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newDiscoverer(src Source, conv *model.Conversation, st Starter) *Discoverer {
	d := New("s1", src, conv, st, Policy{}, zerolog.Nop())
	d.now = func() time.Time { return now }
	return d
}

// =============================================================================
// POLICY
// =============================================================================

func TestPolicy_MaybeGenerating(t *testing.T) {
	p := DefaultPolicy()
	long := strings.Repeat("x", 40)

	tests := []struct {
		name string
		msg  model.Message
		want bool
	}{
		{"recent and long", model.Message{ID: "1", Role: model.RoleAssistant, Content: long, CreatedAt: now.Add(-time.Minute)}, true},
		{"old and short", model.Message{ID: "1", Role: model.RoleAssistant, Content: "short", CreatedAt: now.Add(-time.Hour)}, true},
		{"old and long", model.Message{ID: "1", Role: model.RoleAssistant, Content: long, CreatedAt: now.Add(-time.Hour)}, false},
		{"at window edge", model.Message{ID: "1", Role: model.RoleAssistant, Content: long, CreatedAt: now.Add(-30 * time.Minute)}, true},
		{"user message", model.Message{ID: "1", Role: model.RoleUser, Content: "", CreatedAt: now}, false},
		{"placeholder", model.Message{ID: model.NewPlaceholderID(), Role: model.RoleAssistant, CreatedAt: now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.MaybeGenerating(tt.msg, now))
		})
	}
}

// =============================================================================
// RUN
// =============================================================================

func TestRun_PicksMostRecentJob(t *testing.T) {
	src := &fakeSource{active: []api.ActiveStream{
		{MessageID: "7", Content: "old job", StartedAt: api.Timestamp{Time: now.Add(-time.Minute)}, LastSeq: 2},
		{MessageID: "9", Content: "new job", StartedAt: api.Timestamp{Time: now}, LastSeq: 4},
	}}
	conv := model.NewConversation("s1")
	st := &fakeStarter{}

	dec, err := newDiscoverer(src, conv, st).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Decision{Origin: OriginJob, MessageID: "9", LastSeq: 4}, dec)
	require.Len(t, st.targets, 1)
	assert.Equal(t, stream.Resubscribe("9", 4), st.targets[0])

	msg, ok := conv.Get("9")
	require.True(t, ok)
	assert.Equal(t, "new job", msg.Content)
	assert.False(t, conv.Has("7"))
}

func TestRun_RefreshesExistingMessage(t *testing.T) {
	src := &fakeSource{active: []api.ActiveStream{
		{MessageID: "9", Content: "Hello wor", StartedAt: api.Timestamp{Time: now}, LastSeq: 3},
	}}
	conv := model.NewConversation("s1")
	conv.Add(model.Message{ID: "9", Role: model.RoleAssistant, Content: "Hel"})

	_, err := newDiscoverer(src, conv, &fakeStarter{}).Run(context.Background())
	require.NoError(t, err)

	msg, _ := conv.Get("9")
	assert.Equal(t, "Hello wor", msg.Content)
	assert.Equal(t, 1, conv.Len())
}

func TestRun_FallsBackToHeuristic(t *testing.T) {
	conv := model.NewConversation("s1")
	conv.Add(model.Message{ID: "1", Role: model.RoleUser, Content: "hi", CreatedAt: now.Add(-2 * time.Hour)})
	conv.Add(model.Message{ID: "2", Role: model.RoleAssistant, Content: "Hel", CreatedAt: now.Add(-2 * time.Hour)})
	st := &fakeStarter{}

	dec, err := newDiscoverer(&fakeSource{err: errors.New("boom")}, conv, st).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OriginHeuristic, dec.Origin)
	assert.Equal(t, "2", dec.MessageID)
	assert.Equal(t, []stream.Target{stream.Resubscribe("2", 0)}, st.targets)
}

func TestRun_NothingToResume(t *testing.T) {
	conv := model.NewConversation("s1")
	conv.Add(model.Message{ID: "2", Role: model.RoleAssistant, Content: strings.Repeat("done ", 10), CreatedAt: now.Add(-2 * time.Hour)})
	st := &fakeStarter{}

	dec, err := newDiscoverer(&fakeSource{}, conv, st).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, dec.Resubscribed())
	assert.Empty(t, st.targets)
}
