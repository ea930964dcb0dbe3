// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/model"
)

type fakeSource struct {
	history *api.HistoryResponse
	unread  *api.UnreadCountResponse
	err     error
	calls   []bool
}

func (f *fakeSource) Messages(_ context.Context, _ string, markAsRead bool) (*api.HistoryResponse, error) {
	f.calls = append(f.calls, markAsRead)
	return f.history, f.err
}

func (f *fakeSource) UnreadCount(context.Context) (*api.UnreadCountResponse, error) {
	return f.unread, f.err
}

type fakeSet struct{ ids []string }

func (f *fakeSet) Reset(ids []string) { f.ids = append([]string(nil), ids...) }

type fakeBadges struct {
	session map[string]int
	total   int
}

func (f *fakeBadges) SessionUnread(id string, n int) {
	if f.session == nil {
		f.session = map[string]int{}
	}
	f.session[id] = n
}

func (f *fakeBadges) GlobalUnread(total int, _ []api.SessionUnread) { f.total = total }

func wireMsg(id, role, content string, read bool) api.Message {
	return api.Message{
		ID:        model.FlexID(id),
		Role:      role,
		Content:   content,
		CreatedAt: api.Timestamp{Time: time.Now()},
		IsRead:    read,
	}
}

func TestSync_AdoptsDurableHistory(t *testing.T) {
	src := &fakeSource{history: &api.HistoryResponse{
		Envelope:     api.Envelope{Success: true},
		SessionTitle: "Plan",
		UnreadCount:  2,
		Messages: []api.Message{
			wireMsg("1", "user", "hi", true),
			wireMsg("2", "assistant", "hello", false),
			wireMsg("3", "assistant", "again", false),
			wireMsg("4", "system", "ignored", true),
		},
	}}
	conv := model.NewConversation("s1")
	conv.Add(model.Message{ID: "stale", Role: model.RoleAssistant, Content: "old"})

	set := &fakeSet{}
	badges := &fakeBadges{}
	s := New("s1", src, conv, set, badges, zerolog.Nop())

	require.NoError(t, s.Sync(context.Background()))

	assert.Equal(t, []bool{false}, src.calls, "sync never marks read")
	assert.Equal(t, 3, conv.Len())
	assert.False(t, conv.Has("stale"))
	sort.Strings(set.ids)
	assert.Equal(t, []string{"2", "3"}, set.ids)
	assert.Equal(t, 2, badges.session["s1"])
	assert.Equal(t, "Plan", s.Title())
}

func TestSync_KeepsStreamingMessage(t *testing.T) {
	src := &fakeSource{history: &api.HistoryResponse{
		Messages: []api.Message{
			wireMsg("1", "user", "hi", true),
			wireMsg("2", "assistant", "Hel", false),
		},
	}}
	conv := model.NewConversation("s1")
	conv.Add(model.Message{ID: "2", Role: model.RoleAssistant, Content: "Hello", Streaming: true})

	s := New("s1", src, conv, nil, nil, zerolog.Nop())
	require.NoError(t, s.Sync(context.Background()))

	msg, ok := conv.Get("2")
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Content)
	assert.True(t, msg.Streaming)
}

func TestSync_KeepsPlaceholderMissingFromHistory(t *testing.T) {
	src := &fakeSource{history: &api.HistoryResponse{
		Messages: []api.Message{wireMsg("1", "user", "hi", true)},
	}}
	conv := model.NewConversation("s1")
	ph := model.NewAssistantPlaceholder()
	conv.Add(ph)

	s := New("s1", src, conv, nil, nil, zerolog.Nop())
	require.NoError(t, s.Sync(context.Background()))

	assert.True(t, conv.Has(ph.ID))
	assert.Equal(t, 2, conv.Len())
}

func TestSync_ErrorLeavesConversation(t *testing.T) {
	src := &fakeSource{err: errors.New("offline")}
	conv := model.NewConversation("s1")
	conv.Add(model.NewUserMessage("hi"))

	s := New("s1", src, conv, nil, nil, zerolog.Nop())
	err := s.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s1")
	assert.Equal(t, 1, conv.Len())
}

func TestGlobalUnread(t *testing.T) {
	src := &fakeSource{unread: &api.UnreadCountResponse{TotalUnread: 5, HasUnread: true}}
	badges := &fakeBadges{}
	s := New("s1", src, model.NewConversation("s1"), nil, badges, zerolog.Nop())

	resp, err := s.GlobalUnread(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.HasUnread)
	assert.Equal(t, 5, badges.total)
}
