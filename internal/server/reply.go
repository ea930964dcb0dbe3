// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/jobs"
)

// ============================================================================
// BLOCKING REPLIES
// ============================================================================

// handleSend handles POST /api/chat/send. It runs the same job as a stream
// request and answers once the reply is finished. Both turns are stored
// before generation starts, so a client that gives up early still finds
// the reply in history.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req api.SendRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	job, user, assistant, started := s.launch(r.Context(), w, req.SessionID, req.Message)
	if !started {
		return
	}
	// Generation can outlast the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	select {
	case <-job.Done():
	case <-r.Context().Done():
		s.logger.Debug().Str("message_id", job.MessageID).Msg("SEND_CLIENT_GONE")
		return
	}

	if job.Status() == jobs.StatusFailed {
		writeError(w, http.StatusInternalServerError, job.Err())
		return
	}

	assistant.Content = s.jobContent(job)
	writeJSON(w, http.StatusOK, api.SendResponse{
		Envelope:         ok(),
		UserMessage:      api.MessageFromModel(user),
		AssistantMessage: api.MessageFromModel(assistant),
		Metadata:         api.ResponseMetadata{Model: s.gen.Name()},
	})
}

// handleAsk handles POST /api/chat/ask: a one-off question answered without
// history. Nothing is stored.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req api.AskRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if len(req.Question) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, "question too long")
		return
	}

	var answer strings.Builder
	err := s.gen.Generate(r.Context(), nil, req.Question, func(text string) {
		answer.WriteString(text)
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("ASK_FAILED")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, api.AskResponse{
		Envelope: ok(),
		Question: req.Question,
		Answer:   answer.String(),
		Metadata: api.ResponseMetadata{Model: s.gen.Name()},
	})
}
