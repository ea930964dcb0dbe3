// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL for taskchat.
//
// The REPL opens a session view against the server, prints the transcript,
// and streams replies as they arrive. Ctrl+C while a reply is streaming
// cancels it; Ctrl+C at the prompt exits. Closing the terminal mid-reply
// leaves the generation running on the server, and the next `taskchat chat`
// for the same session picks it up again.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/logging"
	"github.com/jeranaias/taskchat/internal/session"
	"github.com/jeranaias/taskchat/internal/stream"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// LineReader reads one line of user input.
type LineReader interface {
	ReadInput(prompt string) (string, error)
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCmd(a *app) *cobra.Command {
	var (
		title  string
		taskID string
	)

	cmd := &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Open an interactive chat session",
		Long: `Open an interactive chat session.

Without a session id a new session is created. A reply still generating
from an earlier run is picked up automatically.

Commands:
  /resume     reattach to an interrupted reply
  /read-all   mark every message in every session as read
  /sync       reload the history from the server
  /status     show the session status
  /help       show this help
  /quit       leave the chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := a.client()

			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			} else {
				resp, err := client.CreateSession(ctx, api.CreateSessionRequest{Title: title, TaskID: taskID})
				if err != nil {
					return fmt.Errorf("create session: %w", err)
				}
				sessionID = resp.Session.SessionID
			}

			width, height := GetTerminalSize()
			viewport := NewScrollbackViewport(width, height)
			cfg := session.ConfigFrom(a.cfg, logging.Component(a.logger, "chat"))
			view := session.New(sessionID, client, viewport, nil, cfg)

			input := NewChatCLI()
			defer input.Close()

			if path, err := a.resolvedConfigPath(); err == nil {
				watchCtx, stop := context.WithCancel(ctx)
				defer stop()
				logger := a.logger
				go func() {
					if err := config.Watch(watchCtx, path, logger, func(c *config.Config) {
						applyLogLevel(c.Log.Level, logger)
					}); err != nil {
						logger.Debug().Err(err).Msg("CONFIG_WATCH_DISABLED")
					}
				}()
			}

			repl := NewREPL(view, viewport, input, cmd.OutOrStdout(), a.logger)
			return repl.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "title for a new session")
	cmd.Flags().StringVar(&taskID, "task", "", "attach a new session to a task id")
	return cmd
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the interactive chat loop.
type REPL struct {
	view     *session.View
	viewport *ScrollbackViewport
	input    LineReader
	render   *Renderer
	out      io.Writer
	logger   zerolog.Logger

	// streamDone is signalled by the phase callback when a stream ends.
	streamDone chan stream.Phase
	mu         sync.Mutex
	waiting    bool
}

// NewREPL wires a view to the terminal.
func NewREPL(view *session.View, viewport *ScrollbackViewport, input LineReader, out io.Writer, logger zerolog.Logger) *REPL {
	r := &REPL{
		view:       view,
		viewport:   viewport,
		input:      input,
		out:        out,
		logger:     logger,
		streamDone: make(chan stream.Phase, 1),
	}
	r.render = NewRenderer(out, viewport, view.Conversation().Messages)
	view.SetChangeCallback(r.render.Handle)
	view.SetPhaseCallback(r.onPhase)
	return r
}

func (r *REPL) onPhase(p stream.Phase) {
	switch p {
	case stream.PhaseCompleted, stream.PhaseAborted, stream.PhaseErrored:
	default:
		return
	}
	r.mu.Lock()
	waiting := r.waiting
	r.mu.Unlock()
	if !waiting {
		return
	}
	select {
	case r.streamDone <- p:
	default:
	}
}

const prompt = "you> "

// Run opens the view and reads input until the user quits.
func (r *REPL) Run(ctx context.Context) error {
	if err := r.view.Open(ctx); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer r.view.Close()

	st := r.view.Status()
	title := st.Title
	if title == "" {
		title = st.SessionID
	}
	r.render.Notice("-- %s (%d messages, %d unread) --", title, st.Messages, st.Unread)

	// A generation discovered on open is already streaming.
	if r.view.Stream().Phase().Busy() {
		r.wait(ctx)
	}

	for {
		r.render.EndLine()
		line, err := r.input.ReadInput(prompt)
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				r.logger.Debug().Err(err).Msg("PROMPT_FAILED")
			}
			fmt.Fprintln(r.out)
			return nil
		}
		r.refocus(ctx)

		text := strings.TrimSpace(line)
		if text == "" {
			r.viewport.Advance(1)
			continue
		}

		if strings.HasPrefix(text, "/") {
			r.viewport.Advance(RowsFor(prompt+line, r.viewport.Width()))
			quit, err := r.command(ctx, text)
			if err != nil {
				r.render.Notice("[ERROR] %v", err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.render.Echoed(prompt, text)
		if err := r.send(ctx, text); err != nil {
			r.render.Notice("[ERROR] %v", err)
		}
	}
}

// refocus runs each time the prompt returns. A reply that dropped with an
// error is picked up again before the input is handled.
func (r *REPL) refocus(ctx context.Context) {
	st := r.view.Status()
	if st.Phase != stream.PhaseIdle || st.Outcome != stream.PhaseErrored || st.AssistantID == "" {
		r.view.Scroll()
		return
	}
	r.logger.Debug().Str("message_id", st.AssistantID).Int64("last_seq", st.LastSeq).Msg("STREAM_REFOCUS")
	r.arm()
	r.view.Focus()
	r.wait(ctx)
}

func (r *REPL) send(ctx context.Context, text string) error {
	r.arm()
	if err := r.view.Send(text); err != nil {
		r.disarm()
		return err
	}
	r.wait(ctx)
	return nil
}

func (r *REPL) arm() {
	r.mu.Lock()
	r.waiting = true
	r.mu.Unlock()
	select {
	case <-r.streamDone:
	default:
	}
}

func (r *REPL) disarm() {
	r.mu.Lock()
	r.waiting = false
	r.mu.Unlock()
}

// wait blocks until the live stream ends. An interrupt cancels the stream
// instead of exiting.
func (r *REPL) wait(ctx context.Context) {
	r.arm()
	defer r.disarm()

	if !r.view.Stream().Phase().Busy() {
		r.report(r.view.Stream().Outcome())
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case p := <-r.streamDone:
			r.view.Scroll()
			r.report(p)
			return
		case <-sigCh:
			r.view.Cancel()
		case <-ctx.Done():
			// Leaving; Close detaches and the reply keeps generating.
			return
		}
	}
}

func (r *REPL) report(p stream.Phase) {
	r.render.EndLine()
	switch p {
	case stream.PhaseAborted:
		r.render.Notice("[cancelled]")
	case stream.PhaseErrored:
		if err := r.view.Stream().Err(); err != nil {
			r.render.Notice("[stream error] %v (picked up again at the next prompt, or /resume)", err)
		}
	}
}

// command runs a slash command and reports whether the REPL should exit.
func (r *REPL) command(ctx context.Context, text string) (bool, error) {
	name := strings.ToLower(strings.Fields(text)[0])
	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		r.render.Notice("/resume  /read-all  /sync  /status  /quit")
		return false, nil

	case "/resume":
		r.arm()
		if !r.view.Resume() {
			r.disarm()
			r.render.Notice("nothing to resume")
			return false, nil
		}
		r.wait(ctx)
		return false, nil

	case "/read-all":
		n, err := r.view.MarkAllRead(ctx)
		if err != nil {
			return false, err
		}
		r.render.Notice("marked %d messages as read", n)
		return false, nil

	case "/sync":
		return false, r.view.Sync(ctx)

	case "/status":
		st := r.view.Status()
		r.render.Notice("session %s  phase %s  last %s  messages %d  unread %d  open %s",
			st.SessionID, st.Phase, st.Outcome, st.Messages, st.Unread, session.FormatDuration(st.Duration))
		if st.AssistantID != "" {
			r.render.Notice("bound to %s at seq %d", st.AssistantID, st.LastSeq)
		}
		return false, nil
	}

	return false, usageErrorf("unknown command %s (try /help)", name)
}
