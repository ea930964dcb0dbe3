// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/taskchat/internal/api"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "List and manage chat sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listSessions(cmd, a)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listSessions(cmd, a)
		},
	})
	cmd.AddCommand(newSessionsCreateCmd(a))
	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showSession(cmd, a, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session and its messages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			return OutputJSON(cmd.OutOrStdout(), a.jsonMode, "sessions delete",
				func() (interface{}, error) {
					if err := a.client().DeleteSession(cmd.Context(), sessionID); err != nil {
						return nil, fmt.Errorf("delete session %s: %w", sessionID, err)
					}
					return map[string]string{"session_id": sessionID}, nil
				},
				func(interface{}) error {
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sessionID)
					return nil
				})
		},
	})
	return cmd
}

func newSessionsCreateCmd(a *app) *cobra.Command {
	var req api.CreateSessionRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return OutputJSON(cmd.OutOrStdout(), a.jsonMode, "sessions create",
				func() (interface{}, error) {
					resp, err := a.client().CreateSession(cmd.Context(), req)
					if err != nil {
						return nil, fmt.Errorf("create session: %w", err)
					}
					return sessionData(resp.Session), nil
				},
				func(data interface{}) error {
					s := data.(SessionData)
					fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", s.SessionID, s.Title)
					return nil
				})
		},
	}

	cmd.Flags().StringVar(&req.SessionID, "id", "", "session id (generated when empty)")
	cmd.Flags().StringVar(&req.Title, "title", "", "session title")
	cmd.Flags().StringVar(&req.TaskID, "task", "", "task id to attach")
	return cmd
}

func sessionData(s api.Session) SessionData {
	m := s.ToModel()
	return SessionData{
		SessionID:    m.ID,
		Title:        m.Title,
		TaskID:       m.TaskID,
		MessageCount: m.MessageCount,
		CreatedAt:    m.CreatedAt,
		LastActivity: m.LastActivity,
	}
}

func listSessions(cmd *cobra.Command, a *app) error {
	return OutputJSON(cmd.OutOrStdout(), a.jsonMode, "sessions",
		func() (interface{}, error) {
			sessions, err := a.client().Sessions(cmd.Context())
			if err != nil {
				return nil, fmt.Errorf("list sessions: %w", err)
			}
			out := make([]SessionData, 0, len(sessions))
			for _, s := range sessions {
				out = append(out, sessionData(s))
			}
			return out, nil
		},
		func(data interface{}) error {
			sessions := data.([]SessionData)
			w := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(w, "No sessions")
				return nil
			}
			now := time.Now()
			tw := newTable(w)
			fmt.Fprintln(tw, "SESSION\tTITLE\tTASK\tMESSAGES\tACTIVE")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					s.SessionID, cell(s.Title, 40), cell(s.TaskID, 20), s.MessageCount, formatAgo(s.LastActivity, now))
			}
			return tw.Flush()
		})
}

func showSession(cmd *cobra.Command, a *app, sessionID string) error {
	return OutputJSON(cmd.OutOrStdout(), a.jsonMode, "sessions show",
		func() (interface{}, error) {
			client := a.client()
			s, err := client.SessionByID(cmd.Context(), sessionID)
			if err != nil {
				return nil, fmt.Errorf("get session %s: %w", sessionID, err)
			}
			data := sessionData(*s)
			if data.TaskID == "" {
				task, ok, err := client.TaskIDForSession(cmd.Context(), sessionID)
				if err != nil {
					return nil, fmt.Errorf("get task for %s: %w", sessionID, err)
				}
				if ok {
					data.TaskID = task
				}
			}
			return data, nil
		},
		func(data interface{}) error {
			s := data.(SessionData)
			w := cmd.OutOrStdout()
			now := time.Now()
			fmt.Fprintf(w, "Session:   %s\n", s.SessionID)
			fmt.Fprintf(w, "Title:     %s\n", cell(s.Title, 80))
			fmt.Fprintf(w, "Task:      %s\n", cell(s.TaskID, 80))
			fmt.Fprintf(w, "Messages:  %d\n", s.MessageCount)
			fmt.Fprintf(w, "Created:   %s\n", formatAgo(s.CreatedAt, now))
			fmt.Fprintf(w, "Active:    %s\n", formatAgo(s.LastActivity, now))
			return nil
		})
}
