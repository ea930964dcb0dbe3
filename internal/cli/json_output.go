// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for taskchat commands.
//
// Every command that prints data accepts --json. The payload is wrapped in
// a JSONResponse envelope so scripts can check success without parsing
// human text.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// JSONResponse is the envelope written by commands in JSON mode.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the ISO8601 timestamp when the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write outputs the JSON response to w.
func (r *JSONResponse) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// String returns the JSON response as a string.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// OutputJSON outputs either JSON or runs a normal printer.
// In JSON mode the handler's data is wrapped in a JSONResponse; otherwise
// human is called with it. Errors are returned undisplayed.
func OutputJSON(w io.Writer, jsonMode bool, command string, handler func() (interface{}, error), human func(interface{}) error) error {
	data, err := handler()
	if err != nil {
		return err
	}
	if !jsonMode {
		return human(data)
	}
	return NewJSONResponse(command, data).Write(w)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// SessionData is one session in `sessions` output.
type SessionData struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	TaskID       string    `json:"task_id,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// UnreadData is the payload of the `unread` command.
type UnreadData struct {
	Total    int                 `json:"total_unread"`
	Sessions []UnreadSessionData `json:"sessions"`
	Marked   int                 `json:"marked,omitempty"`
}

// UnreadSessionData is one session's unread count.
type UnreadSessionData struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Unread    int    `json:"unread"`
}
