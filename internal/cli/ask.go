// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// AskData is the payload of the `ask` command.
type AskData struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Model     string `json:"model"`
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

func newAskCmd(a *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and print the whole answer",
		Long: `Ask a question and print the whole answer once it is ready.

Without --session nothing is stored. With --session the question and the
answer are added to that session like any chat turn.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return usageErrorf("question is empty")
			}

			return OutputJSON(cmd.OutOrStdout(), a.jsonMode, "ask",
				func() (interface{}, error) {
					client := a.client()
					if sessionID == "" {
						resp, err := client.Ask(cmd.Context(), question)
						if err != nil {
							return nil, fmt.Errorf("ask: %w", err)
						}
						return AskData{Question: resp.Question, Answer: resp.Answer, Model: resp.Metadata.Model}, nil
					}
					resp, err := client.Send(cmd.Context(), sessionID, question)
					if err != nil {
						return nil, fmt.Errorf("send: %w", err)
					}
					return AskData{
						Question:  resp.UserMessage.Content,
						Answer:    resp.AssistantMessage.Content,
						Model:     resp.Metadata.Model,
						SessionID: sessionID,
						MessageID: resp.AssistantMessage.ID.String(),
					}, nil
				},
				func(v interface{}) error {
					data := v.(AskData)
					fmt.Fprintln(cmd.OutOrStdout(), data.Answer)
					return nil
				})
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "store the turn in this session")
	return cmd
}
