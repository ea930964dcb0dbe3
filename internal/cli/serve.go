// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/taskchat/internal/generate"
	"github.com/jeranaias/taskchat/internal/logging"
	"github.com/jeranaias/taskchat/internal/server"
	"github.com/jeranaias/taskchat/internal/storage"
)

// ShutdownTimeout bounds how long serve waits for running generations to
// be persisted on exit.
const ShutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Run the chat server.

Generations run in the background and outlive the request that started
them; clients that disconnect can resubscribe and continue from the last
chunk they saw.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides server.listen)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.Component(a.logger, "serve")

	store, err := storage.Open(a.cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	gen, err := generate.New(a.cfg.Generator, logging.Component(a.logger, "generate"))
	if err != nil {
		return err
	}
	if checker, ok := gen.(interface{ Check(context.Context) error }); ok {
		checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := checker.Check(checkCtx); err != nil {
			logger.Warn().Err(err).Str("generator", gen.Name()).Msg("GENERATOR_UNAVAILABLE")
		}
		checkCancel()
	}

	srv := server.New(a.cfg, store, gen, logging.Component(a.logger, "server"))

	ln, err := net.Listen("tcp", a.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Listen, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("SHUTDOWN_FAILED")
		return err
	}
	return <-errCh
}
