// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/taskchat/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestStore_CreateSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, welcome, err := store.CreateSession(ctx, model.Session{TaskID: "7"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if !strings.HasPrefix(sess.ID, "session_") {
		t.Errorf("ID should start with 'session_', got %q", sess.ID)
	}
	if sess.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", sess.Title, DefaultTitle)
	}
	if welcome.Role != model.RoleAssistant || welcome.IsRead {
		t.Errorf("welcome message should be an unread assistant message, got %+v", welcome)
	}

	got, err := store.Session(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if got.TaskID != "7" || got.MessageCount != 1 {
		t.Errorf("Session = %+v", got)
	}

	if _, _, err := store.CreateSession(ctx, model.Session{ID: sess.ID}); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate create error = %v, want ErrSessionExists", err)
	}
}

func TestStore_SessionsOrderedByActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	if _, _, err := store.CreateSession(ctx, model.Session{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	store.now = func() time.Time { return base.Add(time.Minute) }
	if _, _, err := store.CreateSession(ctx, model.Session{ID: "b"}); err != nil {
		t.Fatal(err)
	}
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := store.AddMessage(ctx, "a", model.RoleUser, "bump"); err != nil {
		t.Fatal(err)
	}

	list, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("unexpected order: %+v", list)
	}
}

func TestStore_DeleteSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, welcome, _ := store.CreateSession(ctx, model.Session{})
	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := store.Session(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Session after delete error = %v, want ErrNotFound", err)
	}
	if _, _, err := store.Message(ctx, welcome.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("messages should be deleted with the session, got %v", err)
	}
	if err := store.DeleteSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestStore_MessagesAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, _, _ := store.CreateSession(ctx, model.Session{ID: "s1"})
	if err := store.AddSystemMessage(ctx, sess.ID, "You are helpful."); err != nil {
		t.Fatal(err)
	}
	user, _ := store.AddMessage(ctx, sess.ID, model.RoleUser, "hi")
	reply, _ := store.AddMessage(ctx, sess.ID, model.RoleAssistant, "")

	if !user.IsRead {
		t.Error("user messages start read")
	}
	if reply.IsRead {
		t.Error("assistant messages start unread")
	}

	if err := store.SetContent(ctx, reply.ID, "hello"); err != nil {
		t.Fatalf("SetContent failed: %v", err)
	}

	visible, err := store.Messages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 3 {
		t.Fatalf("Messages = %d, want 3 (welcome, user, reply)", len(visible))
	}
	if visible[2].Content != "hello" {
		t.Errorf("reply content = %q", visible[2].Content)
	}

	hist, err := store.History(ctx, sess.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].ID != user.ID || hist[1].ID != reply.ID {
		t.Errorf("History(2) = %+v", hist)
	}

	all, _ := store.History(ctx, sess.ID, 10)
	if len(all) != 4 || all[1].Role != RoleSystem {
		t.Errorf("History(10) should include the system prompt, got %+v", all)
	}

	msg, sid, err := store.Message(ctx, reply.ID)
	if err != nil || sid != "s1" || msg.Content != "hello" {
		t.Errorf("Message = %+v, %q, %v", msg, sid, err)
	}
}

func TestStore_InvalidMessageID(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetContent(context.Background(), "tmp-1", "x"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("error = %v, want ErrInvalidID", err)
	}
}

func TestStore_DeleteMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, _, err := store.CreateSession(ctx, model.Session{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	msg, err := store.AddMessage(ctx, sess.ID, model.RoleAssistant, "")
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := store.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if _, _, err := store.Message(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Message after delete error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteMessage(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// READ STATE TESTS
// =============================================================================

func TestStore_ReadState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, welcomeA, _ := store.CreateSession(ctx, model.Session{ID: "a", Title: "A"})
	b, _, _ := store.CreateSession(ctx, model.Session{ID: "b"})
	r1, _ := store.AddMessage(ctx, a.ID, model.RoleAssistant, "one")
	_, _ = store.AddMessage(ctx, b.ID, model.RoleAssistant, "two")

	if n, _ := store.UnreadCount(ctx, a.ID); n != 2 {
		t.Errorf("UnreadCount(a) = %d, want 2", n)
	}

	n, err := store.MarkRead(ctx, a.ID, []string{r1.ID, "bogus", r1.ID})
	if err != nil || n != 1 {
		t.Errorf("MarkRead = %d, %v; want 1", n, err)
	}
	if n, _ := store.MarkRead(ctx, a.ID, []string{r1.ID}); n != 0 {
		t.Errorf("second MarkRead = %d, want 0", n)
	}

	summary, err := store.UnreadBySession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 2 {
		t.Fatalf("UnreadBySession = %d entries, want 2", len(summary))
	}
	for _, su := range summary {
		if su.Session.ID == "a" && su.UnreadCount != 1 {
			t.Errorf("session a unread = %d, want 1", su.UnreadCount)
		}
		if su.Session.ID == "b" && su.UnreadCount != 2 {
			t.Errorf("session b unread = %d, want 2", su.UnreadCount)
		}
	}

	if n, _ := store.MarkSessionRead(ctx, a.ID); n != 1 {
		t.Errorf("MarkSessionRead = %d, want 1 (welcome %s)", n, welcomeA.ID)
	}
	if n, _ := store.MarkAllRead(ctx); n != 2 {
		t.Errorf("MarkAllRead = %d, want 2", n)
	}
	if summary, _ := store.UnreadBySession(ctx); len(summary) != 0 {
		t.Errorf("expected no unread sessions, got %+v", summary)
	}
}

func TestStore_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, _, err := store.CreateSession(context.Background(), model.Session{ID: "x"}); err != nil {
		t.Fatal(err)
	}
}
