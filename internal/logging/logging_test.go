// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSONComponent(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger, err := Setup("debug", FormatJSON, &buf)
	require.NoError(t, err)

	streamLog := Component(logger, "stream")
	streamLog.Info().Int64("seq", 3).Msg("STREAM_START")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream", entry["component"])
	assert.Equal(t, "STREAM_START", entry["message"])
	assert.EqualValues(t, 3, entry["seq"])
}

func TestSetup_LevelFilters(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger, err := Setup("warn", FormatJSON, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
}

func TestSetup_Invalid(t *testing.T) {
	_, err := Setup("loud", FormatJSON, nil)
	assert.Error(t, err)

	_, err = Setup("info", "xml", nil)
	assert.Error(t, err)
}
