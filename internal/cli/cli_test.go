// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/generate"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/server"
	"github.com/jeranaias/taskchat/internal/session"
	"github.com/jeranaias/taskchat/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// scriptedInput replays fixed lines, then reports EOF.
type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) ReadInput(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func startServer(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Server.RateLimit = 0

	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := server.New(cfg, store, generate.NewEcho(0), zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return ts.URL
}

// runCLI executes the command tree with an isolated config.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	base := []string{"--config", filepath.Join(t.TempDir(), "config.toml")}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append(base, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// SCROLLBACK VIEWPORT
// =============================================================================

func TestRowsFor(t *testing.T) {
	assert.Equal(t, 1, RowsFor("", 80))
	assert.Equal(t, 1, RowsFor("abc", 80))
	assert.Equal(t, 3, RowsFor(strings.Repeat("x", 100), 40))
	assert.Equal(t, 3, RowsFor("a\n\nb", 80))
	// Wide runes take two columns each.
	assert.Equal(t, 2, RowsFor("日本", 3))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", WrapText("short", 20))
	assert.Equal(t, "one two\nthree", WrapText("one two three", 9))
	assert.Equal(t, "a\nb", WrapText("a\nb", 20))
}

func TestScrollbackViewport(t *testing.T) {
	vp := NewScrollbackViewport(80, 4)

	vp.Place("a", 2)
	vp.Place("b", 1)
	c := vp.Container()
	assert.Equal(t, 0.0, c.Top)
	assert.Equal(t, 4.0, c.Bottom)

	b, ok := vp.Bounds("b")
	require.True(t, ok)
	assert.Equal(t, 2.0, b.Top)
	assert.True(t, c.Contains(b))

	// a grows and pushes b down; the screen follows the bottom.
	vp.Grow("a", 5)
	b, _ = vp.Bounds("b")
	assert.Equal(t, 5.0, b.Top)
	c = vp.Container()
	assert.Equal(t, 2.0, c.Top)
	assert.Equal(t, 6.0, c.Bottom)

	a, _ := vp.Bounds("a")
	assert.False(t, c.Contains(a), "a scrolled partly off screen")
	assert.True(t, c.Contains(b))

	vp.Rename("b", "b2")
	_, ok = vp.Bounds("b")
	assert.False(t, ok)
	_, ok = vp.Bounds("b2")
	assert.True(t, ok)

	vp.Advance(10)
	c = vp.Container()
	b2, _ := vp.Bounds("b2")
	assert.False(t, c.Contains(b2))

	vp.Move("b2", 1)
	b2, _ = vp.Bounds("b2")
	assert.Equal(t, 16.0, b2.Top)
	assert.True(t, vp.Container().Contains(b2))
}

// =============================================================================
// RENDERER
// =============================================================================

func TestRenderer_StreamsDeltas(t *testing.T) {
	var out bytes.Buffer
	vp := NewScrollbackViewport(80, 24)
	r := NewRenderer(&out, vp, nil)

	msg := model.Message{ID: "tmp-1", Role: model.RoleAssistant, Streaming: true}
	r.Handle(model.Change{Kind: model.ChangeAdded, Message: msg})

	msg.Content = "Hi"
	r.Handle(model.Change{Kind: model.ChangeUpdated, Message: msg})
	msg.Content = "Hi there"
	r.Handle(model.Change{Kind: model.ChangeUpdated, Message: msg})

	r.Handle(model.Change{Kind: model.ChangeRenamed, OldID: "tmp-1", Message: model.Message{ID: "7"}})
	msg.ID = "7"
	msg.Streaming = false
	r.Handle(model.Change{Kind: model.ChangeUpdated, Message: msg})

	assert.Equal(t, "Assistant: Hi there\n", out.String())
	_, ok := vp.Bounds("7")
	assert.True(t, ok)
}

func TestRenderer_ReplacedContentIsReprinted(t *testing.T) {
	var out bytes.Buffer
	r := NewRenderer(&out, NewScrollbackViewport(80, 24), nil)

	msg := model.Message{ID: "1", Role: model.RoleAssistant, Content: "partial", Streaming: true}
	r.Handle(model.Change{Kind: model.ChangeAdded, Message: msg})
	msg.Content = "[error: boom]"
	msg.Streaming = false
	r.Handle(model.Change{Kind: model.ChangeUpdated, Message: msg})

	assert.Equal(t, "Assistant: partial\nAssistant: [error: boom]\n", out.String())
}

func TestRenderer_EchoedInputNotRepeated(t *testing.T) {
	var out bytes.Buffer
	vp := NewScrollbackViewport(80, 24)
	r := NewRenderer(&out, vp, nil)

	r.Echoed(prompt, "hello")
	r.Handle(model.Change{Kind: model.ChangeAdded, Message: model.NewUserMessage("hello")})
	assert.Empty(t, out.String())

	r.Handle(model.Change{Kind: model.ChangeAdded, Message: model.NewUserMessage("other")})
	assert.Equal(t, "You: other\n", out.String())
}

func TestRenderer_ResetPrintsNewMessages(t *testing.T) {
	var out bytes.Buffer
	msgs := []model.Message{
		{ID: "1", Role: model.RoleAssistant, Content: "welcome"},
		{ID: "2", Role: model.RoleUser, Content: "hi"},
	}
	r := NewRenderer(&out, NewScrollbackViewport(80, 24), func() []model.Message { return msgs })

	r.Handle(model.Change{Kind: model.ChangeReset})
	r.Handle(model.Change{Kind: model.ChangeReset})

	assert.Equal(t, "Assistant: welcome\nYou: hi\n", out.String())
}

func TestRenderer_ResetAdoptsPlaceholder(t *testing.T) {
	var out bytes.Buffer
	var msgs []model.Message
	vp := NewScrollbackViewport(80, 24)
	r := NewRenderer(&out, vp, func() []model.Message { return msgs })

	local := model.NewUserMessage("question")
	r.Handle(model.Change{Kind: model.ChangeAdded, Message: local})
	out.Reset()

	msgs = []model.Message{{ID: "12", Role: model.RoleUser, Content: "question"}}
	r.Handle(model.Change{Kind: model.ChangeReset})

	assert.Empty(t, out.String())
	_, ok := vp.Bounds("12")
	assert.True(t, ok)
	_, ok = vp.Bounds(local.ID)
	assert.False(t, ok)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageErrorf("bad"), ExitUsageError},
		{"config", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "x"}}), ExitConfigError},
		{"not found", &api.APIError{Status: 404, Message: "gone"}, ExitNotFoundError},
		{"conflict", fmt.Errorf("send: %w", &api.APIError{Status: 409}), ExitConflictError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "taskchat "+Version)
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, stderr := runCLI(t, "sessions", "--bogus")
	assert.Equal(t, ExitUsageError, code)
	assert.Contains(t, stderr, "[ERROR]")
}

func TestSessionsCommands(t *testing.T) {
	url := startServer(t)

	code, stdout, stderr := runCLI(t, "--url", url, "--json", "sessions", "create", "--title", "Build fix", "--task", "42")
	require.Equal(t, ExitSuccess, code, stderr)

	var created struct {
		Success bool        `json:"success"`
		Data    SessionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))
	assert.True(t, created.Success)
	assert.Equal(t, "Build fix", created.Data.Title)
	assert.Equal(t, "42", created.Data.TaskID)
	sid := created.Data.SessionID
	require.NotEmpty(t, sid)

	code, stdout, _ = runCLI(t, "--url", url, "sessions")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, sid)
	assert.Contains(t, stdout, "Build fix")

	code, stdout, _ = runCLI(t, "--url", url, "sessions", "show", sid)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Task:      42")

	code, _, _ = runCLI(t, "--url", url, "sessions", "delete", sid)
	require.Equal(t, ExitSuccess, code)

	code, stdout, _ = runCLI(t, "--url", url, "--json", "sessions", "show", sid)
	assert.Equal(t, ExitNotFoundError, code)
	assert.Contains(t, stdout, `"not_found_error"`)
}

func TestUnreadCommand(t *testing.T) {
	url := startServer(t)

	// A new session carries an unread welcome message.
	code, _, _ := runCLI(t, "--url", url, "sessions", "create")
	require.Equal(t, ExitSuccess, code)

	code, stdout, _ := runCLI(t, "--url", url, "unread")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "1 unread")

	code, stdout, _ = runCLI(t, "--url", url, "--json", "unread", "--mark-all")
	require.Equal(t, ExitSuccess, code)
	var resp struct {
		Data UnreadData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, 1, resp.Data.Marked)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestAskCommand(t *testing.T) {
	url := startServer(t)

	code, stdout, stderr := runCLI(t, "--url", url, "ask", "how", "far?")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, "You said: how far?\n", stdout)

	code, stdout, _ = runCLI(t, "--url", url, "--json", "sessions", "create")
	require.Equal(t, ExitSuccess, code)
	var created struct {
		Data SessionData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))
	sid := created.Data.SessionID

	code, stdout, stderr = runCLI(t, "--url", url, "--json", "ask", "--session", sid, "ping")
	require.Equal(t, ExitSuccess, code, stderr)
	var resp struct {
		Data AskData `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "You said: ping", resp.Data.Answer)
	assert.Equal(t, sid, resp.Data.SessionID)
	assert.NotEmpty(t, resp.Data.MessageID)

	code, _, _ = runCLI(t, "--url", url, "ask", "--session", "missing", "ping")
	assert.Equal(t, ExitNotFoundError, code)
}

func TestConfigInit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"--config", path, "config", "init"}, &stdout, &stderr)
	require.Equal(t, ExitSuccess, code, stderr.String())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Client.BaseURL, cfg.Client.BaseURL)

	code = run(context.Background(), []string{"--config", path, "config", "init"}, &stdout, &stderr)
	assert.Equal(t, ExitUsageError, code)
}

// =============================================================================
// REPL
// =============================================================================

func TestREPL_SendAndQuit(t *testing.T) {
	url := startServer(t)
	client := api.New(url, api.WithRetryMax(0))

	resp, err := client.CreateSession(context.Background(), api.CreateSessionRequest{Title: "repl"})
	require.NoError(t, err)
	sid := resp.Session.SessionID

	vp := NewScrollbackViewport(80, 200)
	view := session.New(sid, client, vp, nil, session.DefaultConfig())
	input := &scriptedInput{lines: []string{"hello there", "", "/status", "/bogus", "/quit"}}
	out := &syncBuffer{}

	repl := NewREPL(view, vp, input, out, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, repl.Run(ctx))

	text := out.String()
	assert.Contains(t, text, "-- repl (1 messages")
	assert.Contains(t, text, "Assistant: You said: hello there")
	assert.NotContains(t, text, "You: hello there", "typed input is not echoed twice")
	assert.Contains(t, text, "session "+sid)
	assert.Contains(t, text, "unknown command /bogus")

	hist, err := client.Messages(context.Background(), sid, false)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 3)
	assert.Equal(t, "You said: hello there", hist.Messages[2].Content)
}
