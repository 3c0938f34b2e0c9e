package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/cli"
	"github.com/energizer-project/rconctl/internal/db"
)

func newHistoryCommand(a *app) *cobra.Command {
	var filter db.HistoryFilter

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bootstrap(true); err != nil {
				return err
			}

			store, closeHistory, err := openHistory(a.cfg, nil)
			if err != nil {
				return err
			}
			defer closeHistory()
			if store == nil {
				return errors.New("history is disabled in the configuration")
			}

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			cli.RenderHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "number of entries to show")
	cmd.Flags().StringVar(&filter.Profile, "profile", "", "only show commands for this profile")
	return cmd
}
