// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/jobs"
	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/ollama"
)

// DefaultHistoryWindow is how many prior messages a generator sees.
const DefaultHistoryWindow = 10

// SystemPrompt opens every model conversation.
const SystemPrompt = "You are a project assistant. Answer concisely and stay on the topic of the current task."

// Generator produces an assistant reply for prompt, calling emit with each
// piece of text in order. It returns when the reply is complete or ctx is
// done.
type Generator interface {
	Name() string
	Generate(ctx context.Context, history []model.Message, prompt string, emit func(string)) error
}

// Bind turns a generator call into a job body.
func Bind(g Generator, history []model.Message, prompt string) jobs.RunFunc {
	return func(ctx context.Context, emit func(string)) error {
		return g.Generate(ctx, history, prompt, emit)
	}
}

// Window returns the last n messages of history.
func Window(history []model.Message, n int) []model.Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// New builds the generator named by cfg.Kind.
func New(cfg config.GeneratorConfig, logger zerolog.Logger) (Generator, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", config.GeneratorEcho:
		return NewEcho(cfg.EchoDelay), nil
	case config.GeneratorOllama:
		client := ollama.NewClient(&ollama.ClientConfig{
			BaseURL:      cfg.OllamaURL,
			DefaultModel: cfg.Model,
		})
		return NewOllama(client, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", cfg.Kind)
	}
}

// =============================================================================
// ECHO
// =============================================================================

// Echo replies by repeating the prompt word by word. It needs no model and
// is the default backend for local runs and tests.
type Echo struct {
	Delay time.Duration
}

// NewEcho creates an echo generator pausing delay between words.
func NewEcho(delay time.Duration) *Echo {
	return &Echo{Delay: delay}
}

func (e *Echo) Name() string { return config.GeneratorEcho }

// Generate emits "You said: <prompt>" one word at a time.
func (e *Echo) Generate(ctx context.Context, history []model.Message, prompt string, emit func(string)) error {
	for _, chunk := range Chunks("You said: " + prompt) {
		if e.Delay > 0 {
			timer := time.NewTimer(e.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		emit(chunk)
	}
	return nil
}

// Chunks splits text into words, each keeping its leading whitespace, so
// that concatenating the result gives text back.
func Chunks(text string) []string {
	var (
		out    []string
		start  int
		inWord bool
	)
	for i, r := range text {
		space := r == ' ' || r == '\n' || r == '\t'
		if space && inWord {
			out = append(out, text[start:i])
			start = i
		}
		inWord = !space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// =============================================================================
// OLLAMA
// =============================================================================

// Ollama streams replies from a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
	window int
	logger zerolog.Logger
}

// NewOllama wraps client. An empty model uses the client default.
func NewOllama(client *ollama.Client, model string, logger zerolog.Logger) *Ollama {
	return &Ollama{
		client: client,
		model:  model,
		window: DefaultHistoryWindow,
		logger: logger,
	}
}

// WithWindow sets how many history messages are sent to the model.
func (o *Ollama) WithWindow(n int) *Ollama {
	if n > 0 {
		o.window = n
	}
	return o
}

func (o *Ollama) Name() string { return config.GeneratorOllama }

// Check reports whether the Ollama server is reachable.
func (o *Ollama) Check(ctx context.Context) error {
	return o.client.CheckRunning(ctx)
}

// Generate sends the system prompt, the history window and prompt, and
// emits the streamed reply.
func (o *Ollama) Generate(ctx context.Context, history []model.Message, prompt string, emit func(string)) error {
	msgs := make([]ollama.Message, 0, o.window+2)
	msgs = append(msgs, ollama.NewSystemMessage(SystemPrompt))
	for _, m := range Window(history, o.window) {
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, ollama.Message{Role: m.Role.String(), Content: m.Content})
	}
	msgs = append(msgs, ollama.NewUserMessage(prompt))

	var tokens int
	err := o.client.ChatStream(ctx, o.model, msgs, func(c ollama.StreamChunk) {
		if c.Content != "" {
			emit(c.Content)
		}
		if c.Done {
			tokens = c.CompletionTokens
		}
	})
	if err != nil {
		return fmt.Errorf("ollama chat: %w", err)
	}
	o.logger.Debug().Str("model", o.model).Int("history", len(msgs)-2).Int("tokens", tokens).Msg("GENERATION_DONE")
	return nil
}
