package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/events"
)

func newExecCommand(a *app) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "exec [command...]",
		Short: "Run one command and print the response",
		Example: `  rconctl exec --host 10.0.0.5 --port 27015 --password s3cret status
  rconctl exec --profile survival "say server restarting in 5 minutes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bootstrap(true); err != nil {
				return err
			}

			profile, err := target.resolve(cmd, a.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewEventBus()
			_, closeHistory, err := openHistory(a.cfg, bus)
			if err != nil {
				log.Warn().Err(err).Msg("history disabled for this run")
			}
			defer closeHistory()
			defer bus.Stop()

			runner := console.NewRunner(a.cfg, bus)
			res, err := runner.Run(ctx, console.Request{
				Target:  &profile,
				Command: strings.Join(args, " "),
				Source:  console.SourceCLI,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, res.Response)
			if !strings.HasSuffix(res.Response, "\n") {
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	target.register(cmd)
	return cmd
}
