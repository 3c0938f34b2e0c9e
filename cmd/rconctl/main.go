// rconctl is a Source RCON client: one-shot commands, an interactive shell
// and an authenticated HTTP gateway with history and telemetry.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/util"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitAuth       = 2
	exitConnection = 3
)

// app carries state shared by every subcommand.
type app struct {
	configDir string
	logLevel  string
	cfg       *config.Config
}

func main() {
	a := &app{}
	root := newRootCommand(a)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "rconctl",
		Short:         "Source RCON client, shell and gateway",
		Version:       util.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configDir, "config", config.DefaultConfigDir, "configuration directory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); defaults to the configured level")

	root.AddCommand(
		newExecCommand(a),
		newShellCommand(a),
		newServeCommand(a),
		newHistoryCommand(a),
		newProfilesCommand(a),
		newTokenCommand(a),
		newMockCommand(a),
	)
	return root
}

// bootstrap loads configuration and initializes logging. Interactive
// commands pass quiet so that info logs stay off the terminal unless
// --log-level asks for them.
func (a *app) bootstrap(quiet bool) error {
	cfg, err := config.Load(a.configDir)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if quiet {
		level = "warn"
	}
	if a.logLevel != "" {
		level = a.logLevel
	}

	if err := util.InitLogger(util.LogConfig{
		Level:      level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Debug().Str("config", cfg.Path()).Msg("configuration loaded")
	return nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, rcon.ErrAuthentication):
		return exitAuth
	case errors.Is(err, rcon.ErrConnection), errors.Is(err, rcon.ErrConnectionClosed):
		return exitConnection
	default:
		return exitError
	}
}
