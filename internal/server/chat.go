// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"strconv"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/model"
)

// ============================================================================
// HISTORY
// ============================================================================

// handleMessages handles GET /api/chat/messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	markAsRead, _ := strconv.ParseBool(r.URL.Query().Get("mark_as_read"))

	sess, err := s.store.Session(ctx, sessionID)
	if err != nil {
		s.storeError(w, err, "session")
		return
	}
	if markAsRead {
		if _, err := s.store.MarkSessionRead(ctx, sessionID); err != nil {
			s.storeError(w, err, "mark_session_read")
			return
		}
	}
	msgs, err := s.store.Messages(ctx, sessionID)
	if err != nil {
		s.storeError(w, err, "messages")
		return
	}
	unread, err := s.store.UnreadCount(ctx, sessionID)
	if err != nil {
		s.storeError(w, err, "unread_count")
		return
	}

	out := api.HistoryResponse{
		Envelope:     ok(),
		Messages:     make([]api.Message, 0, len(msgs)),
		SessionTitle: sess.Title,
		UnreadCount:  unread,
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, api.MessageFromModel(s.overlay(m)))
	}
	writeJSON(w, http.StatusOK, out)
}

// overlay fills in text the store does not hold yet: a running job's
// progress, or a finished job's reply before it is persisted.
func (s *Server) overlay(m model.Message) model.Message {
	if m.Role != model.RoleAssistant {
		return m
	}
	job, found := s.jobs.Get(m.ID)
	if !found {
		return m
	}
	if !job.Status().Terminal() || m.Content == "" {
		m.Content = s.jobContent(job)
	}
	return m
}

// ============================================================================
// ACTIVE GENERATIONS
// ============================================================================

// handleActive handles GET /api/chat/stream/active.
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	infos := s.jobs.Active(sessionID)
	out := api.ActiveResponse{Envelope: ok(), Active: make([]api.ActiveStream, 0, len(infos))}
	for _, info := range infos {
		out.Active = append(out.Active, api.ActiveStream{
			MessageID: model.FlexID(info.MessageID),
			Content:   info.Content,
			StartedAt: api.Timestamp{Time: info.StartedAt},
			LastSeq:   info.LastSeq,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAbort handles POST /api/chat/stream/abort. Aborting a generation
// that already finished succeeds.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req api.AbortRequest
	if !decode(w, r, &req) {
		return
	}
	messageID := req.AssistantMessageID.String()
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "assistant_message_id is required")
		return
	}

	job, found := s.jobs.Get(messageID)
	if !found || (req.SessionID != "" && job.SessionID != req.SessionID) {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}

	out := ok()
	if !s.jobs.Cancel(messageID) {
		out.Message = "generation already finished"
	}
	s.logger.Info().Str("session_id", job.SessionID).Str("message_id", messageID).Msg("STREAM_ABORT")
	writeJSON(w, http.StatusOK, out)
}

// ============================================================================
// READ STATE
// ============================================================================

// handleMarkAsRead handles POST /api/chat/mark-as-read.
func (s *Server) handleMarkAsRead(w http.ResponseWriter, r *http.Request) {
	var req api.MarkReadRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	ids := make([]string, len(req.MessageIDs))
	for i, id := range req.MessageIDs {
		ids[i] = id.String()
	}
	n, err := s.store.MarkRead(r.Context(), req.SessionID, ids)
	if err != nil {
		s.storeError(w, err, "mark_read")
		return
	}
	writeJSON(w, http.StatusOK, api.MarkReadResponse{Envelope: ok(), MarkedCount: n})
}

// handleMarkAllAsRead handles POST /api/chat/mark-all-as-read.
func (s *Server) handleMarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.MarkAllRead(r.Context())
	if err != nil {
		s.storeError(w, err, "mark_all_read")
		return
	}
	writeJSON(w, http.StatusOK, api.MarkReadResponse{Envelope: ok(), MarkedCount: n})
}

// handleUnreadCount handles GET /api/chat/unread-count.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.UnreadBySession(r.Context())
	if err != nil {
		s.storeError(w, err, "unread_by_session")
		return
	}

	out := api.UnreadCountResponse{
		Envelope:           ok(),
		SessionsWithUnread: make([]api.SessionUnread, 0, len(rows)),
	}
	for _, row := range rows {
		out.TotalUnread += row.UnreadCount
		out.SessionsWithUnread = append(out.SessionsWithUnread, api.SessionUnread{
			SessionID:       row.Session.ID,
			Title:           row.Session.Title,
			TaskID:          row.Session.TaskID,
			UnreadCount:     row.UnreadCount,
			LastMessageTime: api.Timestamp{Time: row.LastMessageTime},
		})
	}
	out.HasUnread = out.TotalUnread > 0
	writeJSON(w, http.StatusOK, out)
}
