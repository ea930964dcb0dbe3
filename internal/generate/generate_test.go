// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/ollama"
)

// =============================================================================
// ECHO
// =============================================================================

func TestChunks_RoundTrip(t *testing.T) {
	tests := []string{"", "one", "two words", "  lead", "trail  ", "a\nb\tc"}
	for _, in := range tests {
		assert.Equal(t, in, strings.Join(Chunks(in), ""), "input %q", in)
	}
	assert.Equal(t, []string{"You", " said:", " hi"}, Chunks("You said: hi"))
}

func TestEcho_Generate(t *testing.T) {
	var got []string
	err := NewEcho(0).Generate(context.Background(), nil, "hello there", func(s string) {
		got = append(got, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "You said: hello there", strings.Join(got, ""))
	assert.Len(t, got, 4)
}

func TestEcho_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var n int
	done := make(chan error, 1)
	go func() {
		done <- NewEcho(time.Hour).Generate(ctx, nil, "never emitted", func(string) { n++ })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("echo ignored cancellation")
	}
}

func TestBind(t *testing.T) {
	run := Bind(NewEcho(0), nil, "ok")
	var b strings.Builder
	require.NoError(t, run(context.Background(), func(s string) { b.WriteString(s) }))
	assert.Equal(t, "You said: ok", b.String())
}

func TestWindow(t *testing.T) {
	msgs := make([]model.Message, 12)
	for i := range msgs {
		msgs[i].ID = string(rune('a' + i))
	}
	w := Window(msgs, 10)
	require.Len(t, w, 10)
	assert.Equal(t, "c", w[0].ID)
	assert.Len(t, Window(msgs[:3], 10), 3)
}

func TestNew(t *testing.T) {
	g, err := New(config.GeneratorConfig{Kind: "echo"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "echo", g.Name())

	g, err = New(config.GeneratorConfig{Kind: "OLLAMA", OllamaURL: "http://127.0.0.1:1"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "ollama", g.Name())

	_, err = New(config.GeneratorConfig{Kind: "gpt"}, zerolog.Nop())
	assert.Error(t, err)
}

// =============================================================================
// OLLAMA
// =============================================================================

func TestOllama_SendsWindowAndStreams(t *testing.T) {
	var req ollama.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}
{"message":{"role":"assistant","content":" there"},"done":false}
{"message":{"role":"assistant","content":""},"done":true,"eval_count":2}
`)
	}))
	defer srv.Close()

	history := make([]model.Message, 14)
	for i := range history {
		history[i] = model.Message{Role: model.RoleUser, Content: "m"}
	}

	client := ollama.NewClient(&ollama.ClientConfig{BaseURL: srv.URL})
	g := NewOllama(client, "tiny", zerolog.Nop())

	var b strings.Builder
	err := g.Generate(context.Background(), history, "question", func(s string) { b.WriteString(s) })
	require.NoError(t, err)

	assert.Equal(t, "Hi there", b.String())
	assert.Equal(t, "tiny", req.Model)
	// system prompt + 10 history + prompt
	require.Len(t, req.Messages, 12)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "question", req.Messages[11].Content)
}

func TestOllama_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewOllama(ollama.NewClient(&ollama.ClientConfig{BaseURL: srv.URL}), "missing", zerolog.Nop())
	err := g.Generate(context.Background(), nil, "q", func(string) {})
	assert.True(t, ollama.IsModelNotFound(err))
}
