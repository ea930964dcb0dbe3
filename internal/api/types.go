// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/taskchat/internal/model"
)

// =============================================================================
// TIMESTAMPS
// =============================================================================

// Timestamp decodes RFC 3339 times as well as zone-less ISO 8601 times,
// which are taken as UTC. It encodes as RFC 3339 in UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the {success, error} wrapper every JSON response carries.
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e Envelope) envelope() Envelope { return e }

type enveloped interface {
	envelope() Envelope
}

// =============================================================================
// MESSAGES
// =============================================================================

// Message is a durable chat message as served by the history endpoint.
type Message struct {
	ID        model.FlexID `json:"id"`
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	CreatedAt Timestamp    `json:"created_at"`
	IsRead    bool         `json:"is_read"`
}

// ToModel converts the wire message to the display model.
func (m Message) ToModel() model.Message {
	return model.Message{
		ID:        m.ID.String(),
		Role:      model.Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Time,
		IsRead:    m.IsRead,
	}
}

// MessageFromModel converts a display message to wire form.
func MessageFromModel(m model.Message) Message {
	return Message{
		ID:        model.FlexID(m.ID),
		Role:      m.Role.String(),
		Content:   m.Content,
		CreatedAt: Timestamp{m.CreatedAt},
		IsRead:    m.IsRead,
	}
}

// HistoryResponse is returned by GET /api/chat/messages.
type HistoryResponse struct {
	Envelope
	Messages     []Message `json:"messages"`
	SessionTitle string    `json:"session_title,omitempty"`
	UnreadCount  int       `json:"unread_count"`
}

// =============================================================================
// STREAMING
// =============================================================================

// ActiveStream describes a generation the server is still running.
type ActiveStream struct {
	MessageID model.FlexID `json:"message_id"`
	Content   string       `json:"content"`
	StartedAt Timestamp    `json:"started_at"`
	LastSeq   int64        `json:"last_seq"`
}

// ActiveResponse is returned by GET /api/chat/stream/active.
type ActiveResponse struct {
	Envelope
	Active []ActiveStream `json:"active"`
}

// StreamRequest starts or resumes a generation. Exactly one of Message or
// AssistantMessageID is set.
type StreamRequest struct {
	SessionID          string       `json:"session_id"`
	Message            string       `json:"message,omitempty"`
	AssistantMessageID model.FlexID `json:"assistant_message_id,omitempty"`
	LastSeq            *int64       `json:"last_seq,omitempty"`
}

// IsResume reports whether the request resubscribes to an existing message.
func (r StreamRequest) IsResume() bool {
	return r.AssistantMessageID != ""
}

// AbortRequest asks the server to stop a generation.
type AbortRequest struct {
	SessionID          string       `json:"session_id"`
	AssistantMessageID model.FlexID `json:"assistant_message_id"`
}

// ResponseMetadata describes how a blocking reply was produced.
type ResponseMetadata struct {
	Model string `json:"model"`
}

// SendRequest posts a message and waits for the reply.
type SendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SendResponse is returned by POST /api/chat/send.
type SendResponse struct {
	Envelope
	UserMessage      Message          `json:"user_message"`
	AssistantMessage Message          `json:"assistant_message"`
	Metadata         ResponseMetadata `json:"response_metadata"`
}

// AskRequest is a one-off question outside any session.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is returned by POST /api/chat/ask.
type AskResponse struct {
	Envelope
	Question string           `json:"question"`
	Answer   string           `json:"answer"`
	Metadata ResponseMetadata `json:"metadata"`
}

// =============================================================================
// READ STATE
// =============================================================================

// MarkReadRequest acknowledges messages as read.
type MarkReadRequest struct {
	SessionID  string         `json:"session_id"`
	MessageIDs []model.FlexID `json:"message_ids"`
}

// MarkReadResponse reports how many messages changed state.
type MarkReadResponse struct {
	Envelope
	MarkedCount int `json:"marked_count"`
}

// SessionUnread is one entry of the global unread summary.
type SessionUnread struct {
	SessionID       string    `json:"session_id"`
	Title           string    `json:"title"`
	TaskID          string    `json:"task,omitempty"`
	UnreadCount     int       `json:"unread_count"`
	LastMessageTime Timestamp `json:"last_message_time"`
}

// UnreadCountResponse is returned by GET /api/chat/unread-count.
type UnreadCountResponse struct {
	Envelope
	TotalUnread        int             `json:"total_unread"`
	SessionsWithUnread []SessionUnread `json:"sessions_with_unread"`
	HasUnread          bool            `json:"has_unread"`
}

// =============================================================================
// SESSIONS
// =============================================================================

// Session is a chat session as served by the session endpoints.
type Session struct {
	SessionID    string       `json:"session_id"`
	Title        string       `json:"title"`
	TaskID       model.FlexID `json:"task_id,omitempty"`
	CreatedAt    Timestamp    `json:"created_at"`
	LastActivity Timestamp    `json:"last_activity"`
	MessageCount int          `json:"message_count"`
}

// ToModel converts the wire session to the model type.
func (s Session) ToModel() model.Session {
	return model.Session{
		ID:           s.SessionID,
		Title:        s.Title,
		TaskID:       s.TaskID.String(),
		CreatedAt:    s.CreatedAt.Time,
		LastActivity: s.LastActivity.Time,
		MessageCount: s.MessageCount,
	}
}

// SessionFromModel converts a model session to wire form.
func SessionFromModel(s model.Session) Session {
	return Session{
		SessionID:    s.ID,
		Title:        s.Title,
		TaskID:       model.FlexID(s.TaskID),
		CreatedAt:    Timestamp{s.CreatedAt},
		LastActivity: Timestamp{s.LastActivity},
		MessageCount: s.MessageCount,
	}
}

// SessionsResponse is returned by GET /api/chat/sessions.
type SessionsResponse struct {
	Envelope
	Sessions []Session `json:"sessions"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Envelope
	Session        Session  `json:"session"`
	WelcomeMessage *Message `json:"welcome_message,omitempty"`
}

// CreateSessionRequest creates a session. Empty fields get server defaults.
type CreateSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Title     string `json:"title,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
}

// TaskIDResponse is returned by GET /api/chat/get-task-id/{id}.
type TaskIDResponse struct {
	Envelope
	SessionID string       `json:"session_id"`
	TaskID    model.FlexID `json:"task_id"`
	HasTask   bool         `json:"has_task"`
}
