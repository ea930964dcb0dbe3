// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/model"
)

// handleSessions handles GET /api/chat/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Sessions(r.Context())
	if err != nil {
		s.storeError(w, err, "sessions")
		return
	}
	out := api.SessionsResponse{Envelope: ok(), Sessions: make([]api.Session, 0, len(list))}
	for _, sess := range list {
		out.Sessions = append(out.Sessions, api.SessionFromModel(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateSession handles POST /api/chat/sessions and
// /api/chat/sessions/create. A session attached to a task gets a hidden
// system message naming the task.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	sess, welcome, err := s.store.CreateSession(r.Context(), model.Session{
		ID:     req.SessionID,
		Title:  req.Title,
		TaskID: req.TaskID,
	})
	if err != nil {
		s.storeError(w, err, "create_session")
		return
	}
	if sess.HasTask() {
		if err := s.store.AddSystemMessage(r.Context(), sess.ID, "Task: "+sess.TaskID); err != nil {
			s.storeError(w, err, "task_system_message")
			return
		}
	}

	s.logger.Info().Str("session_id", sess.ID).Str("task_id", sess.TaskID).Msg("SESSION_CREATED")
	wm := api.MessageFromModel(welcome)
	writeJSON(w, http.StatusCreated, api.SessionResponse{
		Envelope:       ok(),
		Session:        api.SessionFromModel(sess),
		WelcomeMessage: &wm,
	})
}

// handleDeleteSession handles DELETE /api/chat/sessions/{id}. A running
// generation of the session is cancelled first.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if job, running := s.jobs.Running(sessionID); running {
		s.jobs.Cancel(job.MessageID)
		<-job.Done()
	}
	if err := s.store.DeleteSession(r.Context(), sessionID); err != nil {
		s.storeError(w, err, "delete_session")
		return
	}
	s.logger.Info().Str("session_id", sessionID).Msg("SESSION_DELETED")
	writeJSON(w, http.StatusOK, ok())
}

// handleSessionByID handles GET /api/chat/session/by-id/{id}.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, api.SessionResponse{Envelope: ok(), Session: api.SessionFromModel(sess)})
}

// handleTaskID handles GET /api/chat/get-task-id/{id}.
func (s *Server) handleTaskID(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, api.TaskIDResponse{
		Envelope:  ok(),
		SessionID: sess.ID,
		TaskID:    model.FlexID(sess.TaskID),
		HasTask:   sess.HasTask(),
	})
}
