package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/network"
)

func newMockCommand(a *app) *cobra.Command {
	var (
		listen   string
		password string
	)

	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local RCON server that echoes commands, for testing scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bootstrap(false); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := network.NewMockServer(password, nil)
			if err := server.Start(ctx, listen); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mock RCON server on %s (password %q)\n", server.Addr(), password)

			<-ctx.Done()
			server.Close()
			server.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:25575", "address to listen on")
	cmd.Flags().StringVar(&password, "password", "", "password clients must send")
	return cmd
}
