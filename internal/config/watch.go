// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// =============================================================================
// HOT RELOAD
// =============================================================================

// DefaultReloadDebounce collapses the burst of events editors emit on save.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// new configuration to fn. Invalid edits are logged and skipped; the previous
// configuration stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself because most
// editors replace the file on save, which drops a direct watch.
func Watch(ctx context.Context, path string, logger zerolog.Logger, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, err := Load(absPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", absPath).Msg("CONFIG_RELOAD_FAILED")
			return
		}
		logger.Info().Str("path", absPath).Msg("CONFIG_RELOADED")
		fn(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(DefaultReloadDebounce, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("CONFIG_WATCH_ERROR")
		}
	}
}
