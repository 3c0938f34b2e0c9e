package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/cli"
	"github.com/energizer-project/rconctl/internal/config"
)

func newProfilesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List configured server profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bootstrap(true); err != nil {
				return err
			}
			cli.RenderProfiles(cmd.OutOrStdout(), a.cfg.GetProfiles(), a.cfg.DefaultProfile)
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add",
			Short: "Add or replace a profile interactively",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.bootstrap(true); err != nil {
					return err
				}
				p, err := config.RunProfileWizard(a.cfg, cmd.InOrStdin(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Profile %q saved to %s\n", p.Name, a.cfg.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.bootstrap(true); err != nil {
					return err
				}
				if !a.cfg.RemoveProfile(args[0]) {
					return fmt.Errorf("profile %q does not exist", args[0])
				}
				if err := a.cfg.Save(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Profile %q removed\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
