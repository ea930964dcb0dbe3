// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/generate"
	"github.com/jeranaias/taskchat/internal/jobs"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/sse"
)

// ============================================================================
// STREAM HANDLER
// ============================================================================

// handleStream handles POST /api/chat/stream. A body with a message starts
// a generation; a body with assistant_message_id resubscribes to one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req api.StreamRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	if req.IsResume() {
		s.resubscribe(w, r, req)
		return
	}
	s.startGeneration(w, r, req)
}

// startGeneration persists the user message and an empty assistant row,
// starts the job and streams it from the first chunk.
func (s *Server) startGeneration(w http.ResponseWriter, r *http.Request, req api.StreamRequest) {
	job, _, _, started := s.launch(r.Context(), w, req.SessionID, req.Message)
	if !started {
		return
	}
	s.follow(w, r, job, 0)
}

// launch validates message, stores the user turn and an empty assistant
// row, and starts the generation job. On failure it has already written
// the error response.
func (s *Server) launch(ctx context.Context, w http.ResponseWriter, sessionID, message string) (*jobs.Job, model.Message, model.Message, bool) {
	fail := func(status int, msg string) (*jobs.Job, model.Message, model.Message, bool) {
		writeError(w, status, msg)
		return nil, model.Message{}, model.Message{}, false
	}

	if strings.TrimSpace(message) == "" {
		return fail(http.StatusBadRequest, "message or assistant_message_id is required")
	}
	if len(message) > MaxMessageLength {
		return fail(http.StatusBadRequest, "message too long")
	}
	if job, running := s.jobs.Running(sessionID); running {
		return fail(http.StatusConflict, "a reply is already being generated for message "+job.MessageID)
	}

	// History is read before the new turn is stored; the prompt is sent
	// separately.
	history, err := s.store.History(ctx, sessionID, s.cfg.HistoryWindow)
	if err != nil {
		s.storeError(w, err, "history")
		return nil, model.Message{}, model.Message{}, false
	}
	user, err := s.store.AddMessage(ctx, sessionID, model.RoleUser, message)
	if err != nil {
		s.storeError(w, err, "add_user_message")
		return nil, model.Message{}, model.Message{}, false
	}
	assistant, err := s.store.AddMessage(ctx, sessionID, model.RoleAssistant, "")
	if err != nil {
		s.storeError(w, err, "add_assistant_message")
		return nil, model.Message{}, model.Message{}, false
	}

	job, err := s.jobs.Start(s.base, sessionID, assistant.ID, generate.Bind(s.gen, history, message))
	if err != nil {
		_ = s.store.DeleteMessage(context.WithoutCancel(ctx), assistant.ID)
		if errors.Is(err, jobs.ErrBusy) {
			return fail(http.StatusConflict, err.Error())
		}
		s.logger.Error().Err(err).Msg("JOB_START_FAILED")
		return fail(http.StatusInternalServerError, "failed to start generation")
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("message_id", assistant.ID).
		Int("history", len(history)).
		Msg("STREAM_START")
	return job, user, assistant, true
}

// resubscribe attaches to an existing generation. A client behind the job
// first gets a snapshot; a finished reply is sent as a snapshot and done.
func (s *Server) resubscribe(w http.ResponseWriter, r *http.Request, req api.StreamRequest) {
	messageID := req.AssistantMessageID.String()
	var lastSeq int64
	if req.LastSeq != nil {
		lastSeq = *req.LastSeq
	}

	if job, found := s.jobs.Get(messageID); found {
		if job.SessionID != req.SessionID {
			writeError(w, http.StatusNotFound, "generation not found")
			return
		}
		s.logger.Info().
			Str("session_id", req.SessionID).
			Str("message_id", messageID).
			Int64("last_seq", lastSeq).
			Msg("STREAM_RESUBSCRIBE")
		s.follow(w, r, job, lastSeq)
		return
	}

	// No job any more: the stored message is final.
	msg, sessionID, err := s.store.Message(r.Context(), messageID)
	if err != nil {
		s.storeError(w, err, "message")
		return
	}
	if sessionID != req.SessionID || msg.Role != model.RoleAssistant {
		writeError(w, http.StatusNotFound, "generation not found")
		return
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = sw.WriteEvent(sse.Event{
		MessageID:    messageID,
		Initial:      true,
		InitialChunk: msg.Content,
		LastSeq:      lastSeq,
		HasLastSeq:   true,
	})
	_ = sw.WriteEvent(sse.Event{Done: true})
}

// follow streams job to the client, starting after clientSeq.
func (s *Server) follow(w http.ResponseWriter, r *http.Request, job *jobs.Job, clientSeq int64) {
	sub := job.Subscribe()
	defer sub.Close()

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	first := sse.Event{MessageID: job.MessageID}
	if sub.Seq != clientSeq {
		first.Initial = true
		first.InitialChunk = sub.Content
		first.LastSeq, first.HasLastSeq = sub.Seq, true
	}
	if err := sw.WriteEvent(first); err != nil {
		return
	}

	log := s.logger.With().Str("message_id", job.MessageID).Logger()
	if sub.C == nil {
		s.finish(sw, job)
		return
	}

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			// The job keeps running; the client may resubscribe.
			log.Debug().Msg("STREAM_CLIENT_GONE")
			return

		case chunk, open := <-sub.C:
			if !open {
				if job.Status().Terminal() {
					s.finish(sw, job)
				} else {
					log.Warn().Msg("STREAM_SUBSCRIBER_LAGGED")
				}
				return
			}
			ev := sse.Event{Seq: chunk.Seq, HasSeq: true, Chunk: chunk.Text, HasChunk: true}
			if err := sw.WriteEvent(ev); err != nil {
				log.Debug().Err(err).Msg("STREAM_WRITE_FAILED")
				return
			}

		case <-keepAlive.C:
			if err := sw.WriteComment("keep-alive"); err != nil {
				return
			}
		}
	}
}

// finish writes the closing frames for a finished job. A failed job gets
// its error first; every stream ends with done.
func (s *Server) finish(sw *sse.Writer, job *jobs.Job) {
	if job.Status() == jobs.StatusFailed {
		if err := sw.WriteEvent(sse.Event{Error: job.Err()}); err != nil {
			return
		}
	}
	_ = sw.WriteEvent(sse.Event{Done: true})
}
