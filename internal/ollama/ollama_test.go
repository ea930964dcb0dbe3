// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tiny", req.Model)
		assert.True(t, req.Stream)
		assert.Len(t, req.Messages, 2)

		_, _ = io.WriteString(w, `{"model":"tiny","message":{"role":"assistant","content":"Hel"},"done":false}
not json
{"model":"tiny","message":{"role":"assistant","content":"lo"},"done":false}

{"model":"tiny","message":{"role":"assistant","content":""},"done":true,"eval_count":2}
`)
	}))
	defer srv.Close()

	c := NewClient(&ClientConfig{BaseURL: srv.URL, DefaultModel: "tiny"})

	var (
		text strings.Builder
		last StreamChunk
	)
	err := c.ChatStream(context.Background(), "", []Message{
		NewSystemMessage("be brief"),
		NewUserMessage("hi"),
	}, func(ch StreamChunk) {
		text.WriteString(ch.Content)
		last = ch
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", text.String())
	assert.True(t, last.Done)
	assert.Equal(t, 2, last.CompletionTokens)
}

func TestChatStream_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(&ClientConfig{BaseURL: srv.URL}).ChatStream(context.Background(), "x", nil, func(StreamChunk) {})
	assert.True(t, IsModelNotFound(err))
}

func TestChatStream_ErrorLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"out of memory"}`+"\n")
	}))
	defer srv.Close()

	err := NewClient(&ClientConfig{BaseURL: srv.URL}).ChatStream(context.Background(), "x", nil, func(StreamChunk) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestCheckRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	}))
	c := NewClient(&ClientConfig{BaseURL: srv.URL})
	assert.NoError(t, c.CheckRunning(context.Background()))

	srv.Close()
	assert.True(t, IsNotRunning(c.CheckRunning(context.Background())))
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = io.WriteString(w, `{"models":[{"name":"tiny","size":42}]}`)
	}))
	defer srv.Close()

	models, err := NewClient(&ClientConfig{BaseURL: srv.URL}).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "tiny", models[0].Name)
}
