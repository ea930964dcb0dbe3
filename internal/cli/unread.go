// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUnreadCmd(a *app) *cobra.Command {
	var markAll bool

	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Show unread message counts",
		Long: `Show unread message counts across all sessions.

With --mark-all every message in every session is marked as read first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return OutputJSON(cmd.OutOrStdout(), a.jsonMode, "unread",
				func() (interface{}, error) {
					client := a.client()
					var data UnreadData
					if markAll {
						n, err := client.MarkAllAsRead(cmd.Context())
						if err != nil {
							return nil, fmt.Errorf("mark all as read: %w", err)
						}
						data.Marked = n
					}
					resp, err := client.UnreadCount(cmd.Context())
					if err != nil {
						return nil, fmt.Errorf("unread count: %w", err)
					}
					data.Total = resp.TotalUnread
					data.Sessions = make([]UnreadSessionData, 0, len(resp.SessionsWithUnread))
					for _, s := range resp.SessionsWithUnread {
						data.Sessions = append(data.Sessions, UnreadSessionData{
							SessionID: s.SessionID,
							Title:     s.Title,
							Unread:    s.UnreadCount,
						})
					}
					return data, nil
				},
				func(v interface{}) error {
					data := v.(UnreadData)
					w := cmd.OutOrStdout()
					if markAll {
						fmt.Fprintf(w, "Marked %d messages as read\n", data.Marked)
					}
					if data.Total == 0 {
						fmt.Fprintln(w, "No unread messages")
						return nil
					}
					fmt.Fprintf(w, "%d unread\n", data.Total)
					tw := newTable(w)
					for _, s := range data.Sessions {
						fmt.Fprintf(tw, "  %s\t%s\t%d\n", s.SessionID, cell(s.Title, 40), s.Unread)
					}
					return tw.Flush()
				})
		},
	}

	cmd.Flags().BoolVar(&markAll, "mark-all", false, "mark every message as read")
	return cmd
}
