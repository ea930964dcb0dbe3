// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide zerolog logger.
//
// Components take a zerolog.Logger and derive a sub-logger with a
// "component" field. Event messages use UPPER_SNAKE names
// (STREAM_START, FRAME_SKIPPED) so they grep the same way in console and
// JSON output.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Setup configures the global logger and returns it.
// An empty level means info; w defaults to stderr.
func Setup(level, format string, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)

	switch format {
	case "", FormatConsole:
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	case FormatJSON:
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}
	return log.Logger, nil
}

// Component returns a sub-logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
