// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jeranaias/taskchat/internal/model"
)

// Endpoint paths.
const (
	PathMessages      = "/api/chat/messages"
	PathStream        = "/api/chat/stream"
	PathStreamActive  = "/api/chat/stream/active"
	PathStreamAbort   = "/api/chat/stream/abort"
	PathMarkAsRead    = "/api/chat/mark-as-read"
	PathMarkAllAsRead = "/api/chat/mark-all-as-read"
	PathUnreadCount   = "/api/chat/unread-count"
	PathSend          = "/api/chat/send"
	PathAsk           = "/api/chat/ask"
)

// =============================================================================
// HISTORY
// =============================================================================

// Messages fetches the durable history of a session. With markAsRead the
// server marks the returned assistant messages read as a side effect.
func (c *Client) Messages(ctx context.Context, sessionID string, markAsRead bool) (*HistoryResponse, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("mark_as_read", strconv.FormatBool(markAsRead))

	var out HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, PathMessages, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// ActiveStreams lists generations still running for a session.
func (c *Client) ActiveStreams(ctx context.Context, sessionID string) ([]ActiveStream, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)

	var out ActiveResponse
	if err := c.doJSON(ctx, http.MethodGet, PathStreamActive, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Active, nil
}

// OpenStream starts or resumes a generation and returns the event-stream
// body. The caller must close it. Cancelling ctx tears the connection down.
// Stream requests are never retried.
func (c *Client) OpenStream(ctx context.Context, sreq StreamRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(sreq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(PathStream, nil), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req.Header, true)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := readResponse(resp)
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// AbortStream asks the server to stop generating a message.
func (c *Client) AbortStream(ctx context.Context, sessionID, messageID string) error {
	in := AbortRequest{SessionID: sessionID, AssistantMessageID: model.FlexID(messageID)}
	var out Envelope
	return c.doJSON(ctx, http.MethodPost, PathStreamAbort, nil, in, &out)
}

// =============================================================================
// BLOCKING REPLIES
// =============================================================================

// Send posts a message and waits for the whole reply. Both turns are
// stored in the session. The request is sent once and never retried.
func (c *Client) Send(ctx context.Context, sessionID, message string) (*SendResponse, error) {
	var out SendResponse
	in := SendRequest{SessionID: sessionID, Message: message}
	if err := c.postOnce(ctx, PathSend, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask answers a one-off question outside any session. Nothing is stored.
func (c *Client) Ask(ctx context.Context, question string) (*AskResponse, error) {
	var out AskResponse
	if err := c.postOnce(ctx, PathAsk, AskRequest{Question: question}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// READ STATE
// =============================================================================

// MarkAsRead acknowledges messages and returns how many changed state.
func (c *Client) MarkAsRead(ctx context.Context, sessionID string, messageIDs []string) (int, error) {
	ids := make([]model.FlexID, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = model.FlexID(id)
	}

	var out MarkReadResponse
	in := MarkReadRequest{SessionID: sessionID, MessageIDs: ids}
	if err := c.doJSON(ctx, http.MethodPost, PathMarkAsRead, nil, in, &out); err != nil {
		return 0, err
	}
	return out.MarkedCount, nil
}

// MarkAllAsRead acknowledges every unread message in every session.
func (c *Client) MarkAllAsRead(ctx context.Context) (int, error) {
	var out MarkReadResponse
	if err := c.doJSON(ctx, http.MethodPost, PathMarkAllAsRead, nil, struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.MarkedCount, nil
}

// UnreadCount returns the global unread summary.
func (c *Client) UnreadCount(ctx context.Context) (*UnreadCountResponse, error) {
	var out UnreadCountResponse
	if err := c.doJSON(ctx, http.MethodGet, PathUnreadCount, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
