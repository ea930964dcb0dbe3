// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for taskchat.
//
// Settings are read from a TOML file, then overridden from the environment,
// then validated.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - StreamConfig: Markers and limits for the stream session
//   - DiscoveryConfig: Fallback policy for resuming generations
//   - UnreadConfig: Unread check cadence and ack pacing
//   - ServerConfig, GeneratorConfig: The bundled backend
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TASKCHAT_*, optionally from .env)
//   - The file passed with --config, or ~/.taskchat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal().Err(err).Msg("config")
//	}
//
// Watch for edits:
//
//	go config.Watch(ctx, path, logger, func(c *config.Config) {
//	    applyLogLevel(c.Log.Level)
//	})
package config
