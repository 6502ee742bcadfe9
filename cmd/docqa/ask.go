package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/docqa/internal/conversation"
)

var (
	askSessionID string
	askJSON      bool
)

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session id (defaults to sessions.default_id)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the raw response as JSON")
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question about the indexed documents",
	Long: `Run a single agent turn against the indexed documents and print the
answer followed by the reasoning log.

Session memory lives in the process, so each invocation starts a fresh
conversation.

Examples:
  docqa ask "What was the revenue in 2023?"
  docqa ask --json "Summarize page 3"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	if err := a.initConversation(); err != nil {
		return err
	}

	resp, err := a.conversation.Ask(ctx, conversation.Request{
		Question:  strings.Join(args, " "),
		SessionID: askSessionID,
	})
	if err != nil {
		return err
	}

	if askJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}

func printResponse(w io.Writer, resp *conversation.Response) {
	if resp.Clarification != nil {
		fmt.Fprintf(w, "Clarification needed: %s\n", *resp.Clarification)
	} else {
		fmt.Fprintln(w, resp.Answer)
	}
	if len(resp.ReasoningLog) == 0 {
		return
	}
	fmt.Fprintln(w, "\nReasoning:")
	for _, line := range resp.ReasoningLog {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
