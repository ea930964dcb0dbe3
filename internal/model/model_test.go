// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// IDS
// =============================================================================

func TestPlaceholderID(t *testing.T) {
	id := NewPlaceholderID()
	assert.True(t, IsPlaceholderID(id))
	assert.False(t, IsPlaceholderID("42"))
	assert.NotEqual(t, id, NewPlaceholderID())
}

func TestFlexID_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want FlexID
	}{
		{`42`, "42"},
		{`"42"`, "42"},
		{`"abc-1"`, "abc-1"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var got FlexID
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got), tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	var bad FlexID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}

// =============================================================================
// CONVERSATION
// =============================================================================

func TestConversation_AddGetAppend(t *testing.T) {
	conv := NewConversation("s1")
	ph := NewAssistantPlaceholder()
	conv.Add(ph)

	require.True(t, conv.Append(ph.ID, "Hel"))
	require.True(t, conv.Append(ph.ID, "lo"))

	got, ok := conv.Get(ph.ID)
	require.True(t, ok)
	assert.Equal(t, "Hello", got.Content)
	assert.True(t, got.Streaming)
	assert.False(t, conv.Append("missing", "x"))
}

func TestConversation_RenameKeepsPosition(t *testing.T) {
	conv := NewConversation("s1")
	conv.Add(NewUserMessage("hi"))
	ph := NewAssistantPlaceholder()
	conv.Add(ph)
	conv.Add(Message{ID: "9", Role: RoleUser, Content: "later"})

	var changes []Change
	conv.SetObserver(func(c Change) { changes = append(changes, c) })

	require.True(t, conv.Rename(ph.ID, "42"))
	assert.False(t, conv.Has(ph.ID))

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "42", msgs[1].ID)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeRenamed, changes[0].Kind)
	assert.Equal(t, ph.ID, changes[0].OldID)
}

func TestConversation_RenameOverExisting(t *testing.T) {
	conv := NewConversation("s1")
	conv.Add(Message{ID: "42", Role: RoleAssistant, Content: "old"})
	ph := NewAssistantPlaceholder()
	conv.Add(ph)
	conv.SetContent(ph.ID, "new")

	require.True(t, conv.Rename(ph.ID, "42"))
	require.Equal(t, 1, conv.Len())
	got, _ := conv.Get("42")
	assert.Equal(t, "new", got.Content)
}

func TestConversation_LastAssistant(t *testing.T) {
	conv := NewConversation("s1")
	_, ok := conv.LastAssistant()
	assert.False(t, ok)

	conv.Add(Message{ID: "1", Role: RoleAssistant})
	conv.Add(Message{ID: "2", Role: RoleUser})
	got, ok := conv.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "1", got.ID)
}

func TestConversation_ReplaceKeepsInFlight(t *testing.T) {
	conv := NewConversation("s1")
	conv.Add(Message{ID: "1", Role: RoleUser, Content: "q"})
	ph := NewAssistantPlaceholder()
	conv.Add(ph)
	conv.Append(ph.ID, "partial")

	conv.Replace([]Message{
		{ID: "1", Role: RoleUser, Content: "q"},
		{ID: "0", Role: RoleAssistant, Content: "earlier"},
	}, ph.ID)

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, ph.ID, msgs[2].ID)
	assert.Equal(t, "partial", msgs[2].Content)
}

func TestConversation_ReplaceStreamingPrefersLongerLocal(t *testing.T) {
	conv := NewConversation("s1")
	conv.Add(Message{ID: "7", Role: RoleAssistant, Content: "Hello wor", Streaming: true})

	conv.Replace([]Message{{ID: "7", Role: RoleAssistant, Content: "Hel"}}, "7")
	got, _ := conv.Get("7")
	assert.Equal(t, "Hello wor", got.Content)
	assert.True(t, got.Streaming)

	conv.SetStreaming("7", false)
	conv.Replace([]Message{{ID: "7", Role: RoleAssistant, Content: "Hello world"}}, "7")
	got, _ = conv.Get("7")
	assert.Equal(t, "Hello world", got.Content)
}

func TestConversation_Prune(t *testing.T) {
	conv := NewConversation("s1")
	for i := 0; i < MaxMessages+5; i++ {
		conv.Add(Message{ID: NewPlaceholderID(), Role: RoleUser})
	}
	assert.Equal(t, MaxMessages, conv.Len())
}

func TestConversation_ConcurrentAppend(t *testing.T) {
	conv := NewConversation("s1")
	conv.Add(Message{ID: "a", Role: RoleAssistant})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv.Append("a", "x")
			_ = conv.Messages()
		}()
	}
	wg.Wait()

	got, _ := conv.Get("a")
	assert.Len(t, got.Content, 50)
}

func TestMessage_AgeAndPreview(t *testing.T) {
	now := time.Now()
	m := Message{Content: "line one\nline two", CreatedAt: now.Add(-time.Minute)}
	assert.Equal(t, time.Minute, m.Age(now))
	assert.Equal(t, "line o...", m.Preview(9))
	assert.Zero(t, Message{}.Age(now))
}
