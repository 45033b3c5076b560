package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcp-ai/rag-server/internal/core"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the indexed documents",
	Long:  `Answers one question. Pass --session to continue an earlier conversation; the session id is printed after the answer.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var (
	askSession string
	askModel   string
	askSources bool
)

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session id to continue")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Model to answer with")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "Print the retrieved chunks")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.chat.Chat(ctx, core.ChatRequest{
		Question:  strings.Join(args, " "),
		SessionID: askSession,
		Model:     askModel,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Answer)
	if askSources {
		for i, s := range resp.Sources {
			fmt.Fprintf(out, "\n[%d] %s (file_id %d, score %.3f)\n", i+1, s.Chunk.Metadata["source"], s.Chunk.FileID, s.Score)
		}
	}
	if resp.LogErr != nil {
		fmt.Fprintf(out, "\nwarning: answer not saved to history: %v\n", resp.LogErr)
	}
	fmt.Fprintf(out, "\nsession: %s  model: %s\n", resp.SessionID, resp.Model)
	return nil
}
