package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/dyike/CortexAdvisor/consts"
)

func newChatCmd(e *env) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive advisory session",
		Long: `Start an interactive session. Press Ctrl-C while an answer streams to
cancel it; press Ctrl-C at the prompt or type exit to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.start(cmd, args); err != nil {
				return err
			}
			defer e.stop(cmd, args)
			return runChat(cmd, e, session)
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSession, "Session ID")
	return cmd
}

func runChat(cmd *cobra.Command, e *env, session string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("CortexAdvisor "+consts.Version))
	fmt.Fprintln(out, statusStyle.Render("session "+session+" · type exit to leave"))
	fmt.Fprintln(out)

	for {
		question, err := PromptForQuestion(session)
		if errors.Is(err, errQuit) {
			fmt.Fprintln(out, "Goodbye.")
			return nil
		}
		if err != nil {
			return err
		}

		// Pick up the latest engine generation so config edits apply between turns.
		eng, release, err := e.engine()
		if err != nil {
			return err
		}
		// 每个回合单独监听 Ctrl-C，只取消当前回答
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		err = streamTurn(ctx, eng.Agent, question, session, out, true)
		stop()
		release()
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
}
