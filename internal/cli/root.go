// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/taskchat/internal/api"
	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/logging"
)

// Version information, set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// SHARED COMMAND STATE
// =============================================================================

// app carries the global flags and the resources they produce. It is
// filled in by the root command's PersistentPreRunE before any subcommand
// runs.
type app struct {
	configPath string
	logLevel   string
	baseURL    string
	jsonMode   bool

	cfg    *config.Config
	logger zerolog.Logger
}

// load reads the configuration and sets up logging.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.baseURL != "" {
		cfg.Client.BaseURL = strings.TrimRight(a.baseURL, "/")
	}

	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return usageErrorf("%v", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// resolvedConfigPath returns the config file in use.
func (a *app) resolvedConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.DefaultPath()
}

// client builds an API client for the configured backend.
func (a *app) client() *api.Client {
	c := a.cfg.Client
	return api.New(c.BaseURL,
		api.WithToken(c.APIToken),
		api.WithTimeout(c.Timeout),
		api.WithRetryMax(c.RetryMax),
		api.WithLogger(logging.Component(a.logger, "api")),
	)
}

// applyLogLevel changes the global log level after a config reload.
func applyLogLevel(level string, logger zerolog.Logger) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		return
	}
	if lvl != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
		logger.Info().Str("level", lvl.String()).Msg("LOG_LEVEL_CHANGED")
	}
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCmd builds the taskchat command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "taskchat",
		Short: "Resumable streaming chat for tasks",
		Long: `taskchat is a streaming chat client and server.

Replies stream token by token. A reply that is interrupted by a dropped
connection or a closed terminal keeps generating on the server and can be
picked up again from where the client left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
	}

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Reason: err.Error()}
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.taskchat/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.baseURL, "url", "", "chat server base URL")
	flags.BoolVar(&a.jsonMode, "json", false, "output JSON")

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newChatCmd(a))
	rootCmd.AddCommand(newAskCmd(a))
	rootCmd.AddCommand(newSessionsCmd(a))
	rootCmd.AddCommand(newUnreadCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	jsonMode, _ := rootCmd.PersistentFlags().GetBool("json")
	w := stderr
	if jsonMode {
		w = stdout
	}
	DisplayError(w, err, jsonMode)
	return GetExitCode(err)
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
