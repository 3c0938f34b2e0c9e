// Package console runs one-shot RCON commands against configured profiles
// and reports every attempt on the event bus.
package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/util"
)

// Sources recorded with each command.
const (
	SourceCLI       = "cli"
	SourceShell     = "shell"
	SourceGateway   = "gateway"
	SourceScheduler = "scheduler"
)

// ErrUnknownProfile is returned when a request names a profile that is not
// configured.
var ErrUnknownProfile = errors.New("unknown profile")

// ProfileSource resolves profile names. *config.Config satisfies it.
type ProfileSource interface {
	GetProfile(name string) (config.Profile, bool)
}

// Request is one command to run. Target, when set, is used instead of
// looking Profile up.
type Request struct {
	Profile string
	Target  *config.Profile
	Command string
	Source  string
}

// Result is a completed command.
type Result struct {
	ID        string        `json:"id"`
	Profile   string        `json:"profile"`
	Address   string        `json:"address"`
	Command   string        `json:"command"`
	Response  string        `json:"response"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Executor runs commands. The gateway and scheduler depend on this rather
// than on Runner so tests can substitute a stub.
type Executor interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Runner opens a fresh session per command: dial, authenticate, execute,
// close.
type Runner struct {
	profiles ProfileSource
	bus      *events.EventBus
	logger   zerolog.Logger
}

// NewRunner creates a Runner. bus may be nil.
func NewRunner(profiles ProfileSource, bus *events.EventBus) *Runner {
	return &Runner{
		profiles: profiles,
		bus:      bus,
		logger:   util.ComponentLogger("runner"),
	}
}

// Resolve returns the profile a request targets.
func (r *Runner) Resolve(req Request) (config.Profile, error) {
	if req.Target != nil {
		p := *req.Target
		if p.Name == "" {
			p.Name = "adhoc"
		}
		if p.Port == 0 {
			p.Port = rcon.DefaultPort
		}
		return p, nil
	}
	if r.profiles == nil {
		return config.Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, req.Profile)
	}
	p, ok := r.profiles.GetProfile(req.Profile)
	if !ok {
		return config.Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, req.Profile)
	}
	return p, nil
}

// Run executes req. Cancelling ctx closes the session, which aborts any
// read in progress. Every attempt that reaches the network is published
// as EventCommandExecuted, successful or not.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	profile, err := r.Resolve(req)
	if err != nil {
		return Result{}, err
	}
	if req.Source == "" {
		req.Source = SourceCLI
	}

	cfg := profile.SessionConfig()
	res := Result{
		ID:        uuid.NewString(),
		Profile:   profile.Name,
		Address:   cfg.Address(),
		Command:   req.Command,
		StartedAt: time.Now(),
	}
	logger := r.logger.With().
		Str("id", res.ID).
		Str("profile", res.Profile).
		Str("addr", res.Address).
		Str("source", req.Source).
		Logger()

	res.Response, err = r.execute(ctx, cfg, req.Command)
	res.Duration = time.Since(res.StartedAt)

	if err != nil {
		logger.Warn().Err(err).Str("kind", string(rcon.Kind(err))).Msg("command failed")
	} else {
		logger.Info().Dur("duration", res.Duration).Int("bytes", len(res.Response)).Msg("command executed")
	}

	r.publish(ctx, req, res, err)
	return res, err
}

func (r *Runner) execute(ctx context.Context, cfg rcon.Config, command string) (string, error) {
	sess, err := rcon.DialConfig(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	if err := sess.Authenticate(); err != nil {
		return "", abortErr(ctx, err)
	}

	resp, err := sess.Execute(command)
	if err != nil {
		return "", abortErr(ctx, err)
	}
	return resp, nil
}

// abortErr attaches the context error when cancellation caused err.
func abortErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", err, ctx.Err())
	}
	return err
}

func (r *Runner) publish(ctx context.Context, req Request, res Result, err error) {
	if r.bus == nil {
		return
	}
	payload := events.CommandPayload{
		ID:        res.ID,
		Profile:   res.Profile,
		Address:   res.Address,
		Command:   res.Command,
		Response:  res.Response,
		Source:    req.Source,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	if err != nil {
		payload.ErrorKind = string(rcon.Kind(err))
		payload.Error = err.Error()
	}

	ctx = context.WithoutCancel(ctx)
	if errors.Is(err, rcon.ErrAuthentication) {
		r.bus.Emit(ctx, events.Event{
			Type:   events.EventAuthFailed,
			Source: req.Source,
			Payload: events.SessionPayload{
				Profile: res.Profile,
				Address: res.Address,
				Source:  req.Source,
				Reason:  err.Error(),
			},
		})
	}
	r.bus.Emit(ctx, events.Event{
		Type:    events.EventCommandExecuted,
		Source:  req.Source,
		Payload: payload,
	})
}
