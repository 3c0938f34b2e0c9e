package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/rcon"
)

// passwordEnv is read when --password is not given.
const passwordEnv = "RCONCTL_PASSWORD"

// targetFlags are the connection flags shared by exec and shell.
type targetFlags struct {
	profile  string
	host     string
	port     int
	password string
	timeout  time.Duration
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.profile, "profile", "", "configured profile to use (default: the default profile)")
	cmd.Flags().StringVar(&f.host, "host", config.DefaultHost, "server host")
	cmd.Flags().IntVar(&f.port, "port", rcon.DefaultPort, "server RCON port")
	cmd.Flags().StringVar(&f.password, "password", "", "RCON password (or set "+passwordEnv+")")
	cmd.Flags().DurationVar(&f.timeout, "timeout", rcon.DefaultTimeout, "connect and read timeout")
}

// resolve starts from the named or default profile and applies any flag
// the user set explicitly. Without a usable profile the flag values are
// used as they are.
func (f *targetFlags) resolve(cmd *cobra.Command, cfg *config.Config) (config.Profile, error) {
	flags := cmd.Flags()

	var p config.Profile
	if f.profile != "" {
		var ok bool
		p, ok = cfg.GetProfile(f.profile)
		if !ok {
			return config.Profile{}, fmt.Errorf("%w: %q", console.ErrUnknownProfile, f.profile)
		}
	} else if def, ok := cfg.GetProfile(""); ok && !flags.Changed("host") && !flags.Changed("port") {
		p = def
	} else {
		p = config.Profile{
			Name:       "adhoc",
			Host:       f.host,
			Port:       f.port,
			TimeoutSec: int(f.timeout.Seconds()),
		}
	}

	if flags.Changed("host") {
		p.Host = f.host
	}
	if flags.Changed("port") {
		p.Port = f.port
	}
	if flags.Changed("timeout") {
		p.TimeoutSec = int(f.timeout.Seconds())
	}
	if flags.Changed("password") {
		p.Password = f.password
	} else if env, ok := os.LookupEnv(passwordEnv); ok {
		p.Password = env
	}

	if res := config.ValidateProfile(p); !res.IsValid() {
		return config.Profile{}, res.Errors[0]
	}
	return p, nil
}

// openHistory opens the history store and subscribes it to bus when
// history is enabled. The returned close function is never nil.
func openHistory(cfg *config.Config, bus *events.EventBus) (*db.HistoryStore, func(), error) {
	if !cfg.History.Enabled {
		return nil, func() {}, nil
	}
	store, err := db.NewHistoryStore(cfg.History.Path, cfg.History.StoreResponses)
	if err != nil {
		return nil, func() {}, err
	}
	if bus != nil {
		store.Subscribe(bus)
	}
	return store, func() { store.Close() }, nil
}
