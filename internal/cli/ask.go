package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexAdvisor/internal/agent"
)

const defaultSession = "default"

func newAskCmd(e *env) *cobra.Command {
	var (
		session string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "ask [QUESTION]",
		Short: "Ask one question and stream the answer",
		Long: `Ask a single question in the context of a session.
Example: cortexadvisor ask "Should I trim my AAPL position?" --session alice`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.start(cmd, args); err != nil {
				return err
			}
			defer e.stop(cmd, args)

			eng, release, err := e.engine()
			if err != nil {
				return err
			}
			defer release()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			question := strings.Join(args, " ")
			if asJSON {
				return askJSON(ctx, eng.Agent, question, session, cmd.OutOrStdout())
			}
			return streamTurn(ctx, eng.Agent, question, session, cmd.OutOrStdout(), true)
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSession, "Session ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Run the turn to completion and print the result as JSON")
	return cmd
}

type streamer interface {
	Stream(ctx context.Context, query, sessionID string) <-chan string
}

// streamTurn renders one streamed turn. A turn that ends without a complete
// status was cancelled.
func streamTurn(ctx context.Context, s streamer, question, session string, w io.Writer, styled bool) error {
	r := newStreamRenderer(w, styled)
	r.Drain(s.Stream(ctx, question, session))
	if !r.Completed() {
		fmt.Fprintln(w, r.render(errorStyle, "cancelled"))
	}
	return nil
}

func askJSON(ctx context.Context, a *agent.Engine, question, session string, w io.Writer) error {
	res, err := a.ProcessTurn(ctx, question, session)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
