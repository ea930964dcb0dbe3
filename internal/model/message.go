// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/taskchat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// PlaceholderPrefix marks locally minted message ids that have not yet been
// bound to a server id.
const PlaceholderPrefix = "tmp-"

// NewPlaceholderID returns a fresh local placeholder id.
func NewPlaceholderID() string {
	return PlaceholderPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id was minted by NewPlaceholderID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// FlexID is a message or session id that decodes from either a JSON string
// or a JSON number. The backend emits integer row ids; clients treat ids as
// opaque strings.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// String returns the id as a plain string.
func (f FlexID) String() string {
	return string(f)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a chat session.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content string `json:"content"`
	IsRead  bool   `json:"is_read"`

	// Streaming state (not persisted)
	Streaming bool `json:"-"`
}

// NewUserMessage creates a user message with a placeholder id.
// User messages are always read.
func NewUserMessage(content string) Message {
	return Message{
		ID:        NewPlaceholderID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
		IsRead:    true,
	}
}

// NewAssistantPlaceholder creates an empty in-flight assistant message.
func NewAssistantPlaceholder() Message {
	return Message{
		ID:        NewPlaceholderID(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
		Streaming: true,
	}
}

// IsPlaceholder reports whether the message still carries a local id.
func (m Message) IsPlaceholder() bool {
	return IsPlaceholderID(m.ID)
}

// IsEmpty returns true if the message has no content.
func (m Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// Preview returns a truncated preview of the message content.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(strings.ReplaceAll(m.Content, "\n", " "), maxLen)
}

// Age returns how long ago the message was created.
func (m Message) Age(now time.Time) time.Duration {
	if m.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(m.CreatedAt)
}

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is a chat conversation, optionally attached to a task.
type Session struct {
	ID           string
	Title        string
	TaskID       string
	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int
}

// HasTask reports whether the session is attached to a task.
func (s Session) HasTask() bool {
	return s.TaskID != ""
}
