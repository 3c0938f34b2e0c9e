package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/cli"
	"github.com/energizer-project/rconctl/internal/events"
)

func newShellCommand(a *app) *cobra.Command {
	var target targetFlags

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Open an interactive RCON shell on one connection",
		Args:  cobra.NoArgs,
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
			store, closeHistory, err := openHistory(a.cfg, bus)
			if err != nil {
				log.Warn().Err(err).Msg("history disabled for this session")
			}
			defer closeHistory()
			defer bus.Stop()

			opts := cli.ShellOptions{
				Profile:        profile,
				DefaultProfile: a.cfg.DefaultProfile,
				Profiles:       a.cfg,
				Bus:            bus,
				In:             cmd.InOrStdin(),
				Out:            cmd.OutOrStdout(),
				Color:          !color.NoColor,
			}
			if store != nil {
				opts.History = store
			}

			return cli.NewShell(opts).Run(ctx)
		},
	}

	target.register(cmd)
	return cmd
}
