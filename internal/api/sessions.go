// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/url"
)

// Session endpoint paths.
const (
	PathSessions       = "/api/chat/sessions"
	PathSessionsCreate = "/api/chat/sessions/create"
	PathSessionByID    = "/api/chat/session/by-id/"
	PathTaskID         = "/api/chat/get-task-id/"
)

// Sessions lists chat sessions, most recently active first.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out SessionsResponse
	if err := c.doJSON(ctx, http.MethodGet, PathSessions, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// CreateSession creates a session. The server seeds it with a welcome
// message, returned alongside.
func (c *Client) CreateSession(ctx context.Context, in CreateSessionRequest) (*SessionResponse, error) {
	var out SessionResponse
	if err := c.doJSON(ctx, http.MethodPost, PathSessionsCreate, nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	var out Envelope
	return c.doJSON(ctx, http.MethodDelete, PathSessions+"/"+url.PathEscape(sessionID), nil, nil, &out)
}

// SessionByID fetches one session.
func (c *Client) SessionByID(ctx context.Context, sessionID string) (*Session, error) {
	var out SessionResponse
	if err := c.doJSON(ctx, http.MethodGet, PathSessionByID+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// TaskIDForSession returns the task a session is attached to, if any.
func (c *Client) TaskIDForSession(ctx context.Context, sessionID string) (string, bool, error) {
	var out TaskIDResponse
	if err := c.doJSON(ctx, http.MethodGet, PathTaskID+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return "", false, err
	}
	return out.TaskID.String(), out.HasTask, nil
}
