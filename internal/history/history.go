// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history keeps a displayed conversation in step with the durable
// message store on the server.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/model"
)

// Source is the part of the API client the synchronizer reads from.
type Source interface {
	Messages(ctx context.Context, sessionID string, markAsRead bool) (*api.HistoryResponse, error)
	UnreadCount(ctx context.Context) (*api.UnreadCountResponse, error)
}

// UnreadSet is rebuilt from the durable read flags after every sync.
type UnreadSet interface {
	Reset(ids []string)
}

// BadgeSink receives unread counts for display. Implementations must not
// block.
type BadgeSink interface {
	SessionUnread(sessionID string, count int)
	GlobalUnread(total int, sessions []api.SessionUnread)
}

// Synchronizer re-reads a session's history and adopts it as the
// authoritative message list.
type Synchronizer struct {
	sessionID string
	source    Source
	conv      *model.Conversation
	unread    UnreadSet
	badges    BadgeSink
	logger    zerolog.Logger

	mu    sync.Mutex
	title string
}

// New creates a synchronizer for conv. unread and badges may be nil.
func New(sessionID string, source Source, conv *model.Conversation, unread UnreadSet, badges BadgeSink, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		sessionID: sessionID,
		source:    source,
		conv:      conv,
		unread:    unread,
		badges:    badges,
		logger:    logger,
	}
}

// SetUnread attaches the unread set after construction.
func (s *Synchronizer) SetUnread(u UnreadSet) {
	s.mu.Lock()
	s.unread = u
	s.mu.Unlock()
}

// Title returns the session title from the last successful sync.
func (s *Synchronizer) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Sync fetches the durable history without marking anything read and
// replaces the conversation with it. A message that is still streaming
// locally survives the replacement.
func (s *Synchronizer) Sync(ctx context.Context) error {
	_, err := s.Load(ctx)
	return err
}

// Load is Sync returning the adopted message list.
func (s *Synchronizer) Load(ctx context.Context) ([]model.Message, error) {
	resp, err := s.source.Messages(ctx, s.sessionID, false)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", s.sessionID, err)
	}

	durable := make([]model.Message, 0, len(resp.Messages))
	var unreadIDs []string
	for _, m := range resp.Messages {
		msg := m.ToModel()
		if !msg.Role.Valid() {
			s.logger.Debug().Str("message_id", msg.ID).Str("role", m.Role).Msg("HISTORY_ROLE_UNKNOWN")
			continue
		}
		durable = append(durable, msg)
		if msg.Role == model.RoleAssistant && !msg.IsRead {
			unreadIDs = append(unreadIDs, msg.ID)
		}
	}

	s.conv.Replace(durable, s.inFlight())

	s.mu.Lock()
	if resp.SessionTitle != "" {
		s.title = resp.SessionTitle
	}
	unread := s.unread
	s.mu.Unlock()

	if unread != nil {
		unread.Reset(unreadIDs)
	}
	if s.badges != nil {
		s.badges.SessionUnread(s.sessionID, resp.UnreadCount)
	}

	s.logger.Debug().
		Int("messages", len(durable)).
		Int("unread", resp.UnreadCount).
		Msg("HISTORY_SYNCED")
	return s.conv.Messages(), nil
}

// GlobalUnread fetches unread counts across all sessions and forwards them
// to the badge sink.
func (s *Synchronizer) GlobalUnread(ctx context.Context) (*api.UnreadCountResponse, error) {
	resp, err := s.source.UnreadCount(ctx)
	if err != nil {
		return nil, err
	}
	if s.badges != nil {
		s.badges.GlobalUnread(resp.TotalUnread, resp.SessionsWithUnread)
	}
	return resp, nil
}

// inFlight returns the id of the message currently being streamed, if any.
func (s *Synchronizer) inFlight() string {
	msgs := s.conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Streaming {
			return msgs[i].ID
		}
	}
	return ""
}
