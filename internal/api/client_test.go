// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskchat/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithRetryWait(time.Millisecond, 5*time.Millisecond)}, opts...)
	return New(srv.URL, opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestClient_Messages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathMessages, r.URL.Path)
		assert.Equal(t, "s1", r.URL.Query().Get("session_id"))
		assert.Equal(t, "false", r.URL.Query().Get("mark_as_read"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"unread_count":1,"session_title":"Plan",
			"messages":[
				{"id":1,"role":"user","content":"hi","created_at":"2025-01-02T03:04:05.123456","is_read":true},
				{"id":"2","role":"assistant","content":"hello","created_at":"2025-01-02T03:04:06Z","is_read":false}
			]}`)
	}, WithToken("tok"))

	resp, err := c.Messages(context.Background(), "s1", false)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, 1, resp.UnreadCount)
	assert.Equal(t, "Plan", resp.SessionTitle)

	first := resp.Messages[0].ToModel()
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, model.RoleUser, first.Role)
	assert.Equal(t, 2025, first.CreatedAt.Year())

	second := resp.Messages[1].ToModel()
	assert.Equal(t, "2", second.ID)
	assert.False(t, second.IsRead)
}

// =============================================================================
// ERRORS AND RETRIES
// =============================================================================

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, ActiveResponse{
			Envelope: Envelope{Success: true},
			Active:   []ActiveStream{{MessageID: "7", Content: "Hel", LastSeq: 2}},
		})
	})

	active, err := c.ActiveStreams(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.EqualValues(t, 2, active[0].LastSeq)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, Envelope{Error: "session not found"})
	})

	_, err := c.Messages(context.Background(), "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "session not found", apiErr.Message)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_SuccessFalseIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Envelope{Success: false, Error: "nope"})
	})

	_, err := c.MarkAsRead(context.Background(), "s1", []string{"1"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "nope", apiErr.Message)
}

// =============================================================================
// STREAM
// =============================================================================

func TestClient_OpenStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathStream, r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		var req StreamRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.IsResume())
		assert.Equal(t, model.FlexID("42"), req.AssistantMessageID)
		require.NotNil(t, req.LastSeq)
		assert.EqualValues(t, 5, *req.LastSeq)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"done\":true}\n\n")
	})

	last := int64(5)
	body, err := c.OpenStream(context.Background(), StreamRequest{
		SessionID:          "s1",
		AssistantMessageID: "42",
		LastSeq:            &last,
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"done\":true}\n\n", string(data))
}

func TestClient_OpenStreamConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, Envelope{Error: "generation already running"})
	})

	_, err := c.OpenStream(context.Background(), StreamRequest{SessionID: "s1", Message: "hi"})
	assert.ErrorIs(t, err, ErrConflict)
}

// =============================================================================
// READ STATE AND SESSIONS
// =============================================================================

func TestClient_MarkAsReadSendsIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID  string   `json:"session_id"`
			MessageIDs []string `json:"message_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"3", "4"}, req.MessageIDs)
		writeJSON(w, http.StatusOK, MarkReadResponse{Envelope: Envelope{Success: true}, MarkedCount: 2})
	})

	n, err := c.MarkAsRead(context.Background(), "s1", []string{"3", "4"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClient_UnreadCount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"total_unread":3,"has_unread":true,
			"sessions_with_unread":[{"session_id":"s1","title":"A","unread_count":3,"last_message_time":null}]}`)
	})

	resp, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalUnread)
	assert.True(t, resp.HasUnread)
	require.Len(t, resp.SessionsWithUnread, 1)
	assert.True(t, resp.SessionsWithUnread[0].LastMessageTime.IsZero())
}

func TestClient_SessionEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/session/by-id/s1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, SessionResponse{Envelope: Envelope{Success: true}, Session: Session{SessionID: "s1", Title: "T", TaskID: "9"}})
	})
	mux.HandleFunc("/api/chat/get-task-id/s1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"session_id":"s1","task_id":9,"has_task":true}`)
	})
	mux.HandleFunc("/api/chat/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		writeJSON(w, http.StatusOK, Envelope{Success: true})
	})
	c := newTestClient(t, mux.ServeHTTP)

	sess, err := c.SessionByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "9", sess.ToModel().TaskID)

	taskID, has, err := c.TaskIDForSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, "9", taskID)

	require.NoError(t, c.DeleteSession(context.Background(), "s1"))
}

// =============================================================================
// BLOCKING REPLIES
// =============================================================================

func TestClient_SendIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathSend, r.URL.Path)
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, Envelope{Error: "model exploded"})
	})

	_, err := c.Send(context.Background(), "s1", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "model exploded", apiErr.Message)
	assert.EqualValues(t, 1, calls.Load(), "a failed send must not create a second turn")
}

func TestClient_Ask(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAsk, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var in AskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		writeJSON(w, http.StatusOK, AskResponse{
			Envelope: Envelope{Success: true},
			Question: in.Question,
			Answer:   "42",
			Metadata: ResponseMetadata{Model: "echo"},
		})
	}, WithToken("tok"))

	resp, err := c.Ask(context.Background(), "meaning?")
	require.NoError(t, err)
	assert.Equal(t, "meaning?", resp.Question)
	assert.Equal(t, "42", resp.Answer)
	assert.Equal(t, "echo", resp.Metadata.Model)
}
