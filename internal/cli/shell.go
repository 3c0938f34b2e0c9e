// Package cli implements the interactive RCON shell and the table output
// shared by the rconctl commands.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/db"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/util"
)

// ProfileLister lists configured profiles. *config.Config satisfies it.
type ProfileLister interface {
	GetProfiles() []config.Profile
}

// HistoryLister reads recorded commands. *db.HistoryStore satisfies it.
type HistoryLister interface {
	List(ctx context.Context, filter db.HistoryFilter) ([]db.HistoryEntry, error)
}

// ShellOptions configures a Shell. Profiles, History and Bus are optional.
type ShellOptions struct {
	Profile        config.Profile
	DefaultProfile string
	Profiles       ProfileLister
	History        HistoryLister
	Bus            *events.EventBus
	In             io.Reader
	Out            io.Writer
	Color          bool
}

// Shell is a read-eval-print loop over one long-lived Session. Lines are
// sent as commands; lines starting with ':' are shell commands.
type Shell struct {
	opts   ShellOptions
	logger zerolog.Logger

	mu   sync.Mutex
	sess *rcon.Session

	prompt *color.Color
	errc   *color.Color
	info   *color.Color
}

// NewShell creates a shell. It does not connect until Run.
func NewShell(opts ShellOptions) *Shell {
	s := &Shell{
		opts:   opts,
		logger: util.ComponentLogger("shell"),
		prompt: color.New(color.FgCyan, color.Bold),
		errc:   color.New(color.FgRed),
		info:   color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{s.prompt, s.errc, s.info} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

// Run connects, then processes input until EOF, :quit or ctx is done.
// It returns the connect error if the first connection fails.
func (s *Shell) Run(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.close()

	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	s.info.Fprintf(s.opts.Out, "Connected to %s (%s). Type :help for shell commands.\n",
		s.opts.Profile.Name, s.address())

	scanner := bufio.NewScanner(s.opts.In)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.prompt.Fprintf(s.opts.Out, "%s> ", s.opts.Profile.Name)

		if !scanner.Scan() {
			fmt.Fprintln(s.opts.Out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			if quit := s.meta(ctx, line); quit {
				return nil
			}
			continue
		}

		s.execute(ctx, line)
	}
}

// meta handles a shell command and reports whether the shell should exit.
func (s *Shell) meta(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case ":help", ":h", ":?":
		s.printHelp()
	case ":history":
		s.printHistory(ctx, args)
	case ":profiles":
		s.printProfiles()
	case ":reconnect":
		s.close()
		if err := s.connect(ctx); err != nil {
			s.printError(err)
			return false
		}
		s.info.Fprintln(s.opts.Out, "Reconnected.")
	case ":quit", ":exit", ":q":
		return true
	default:
		s.errc.Fprintf(s.opts.Out, "Unknown shell command %q. Type :help.\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.opts.Out, "Shell commands:")
	fmt.Fprintln(s.opts.Out, "  :history [n]   show the last n recorded commands (default 10)")
	fmt.Fprintln(s.opts.Out, "  :profiles      list configured profiles")
	fmt.Fprintln(s.opts.Out, "  :reconnect     open a new connection and authenticate again")
	fmt.Fprintln(s.opts.Out, "  :quit          leave the shell")
	fmt.Fprintln(s.opts.Out, "Anything else is sent to the server as a command.")
}

func (s *Shell) printHistory(ctx context.Context, args []string) {
	if s.opts.History == nil {
		s.info.Fprintln(s.opts.Out, "History is disabled.")
		return
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			s.errc.Fprintf(s.opts.Out, "Invalid count %q.\n", args[0])
			return
		}
		limit = n
	}
	entries, err := s.opts.History.List(ctx, db.HistoryFilter{Limit: limit, Profile: s.opts.Profile.Name})
	if err != nil {
		s.printError(err)
		return
	}
	RenderHistory(s.opts.Out, entries)
}

func (s *Shell) printProfiles() {
	if s.opts.Profiles == nil {
		s.info.Fprintln(s.opts.Out, "No profiles configured.")
		return
	}
	RenderProfiles(s.opts.Out, s.opts.Profiles.GetProfiles(), s.opts.DefaultProfile)
}

func (s *Shell) connect(ctx context.Context) error {
	sess, err := rcon.DialConfig(ctx, s.opts.Profile.SessionConfig())
	if err != nil {
		return err
	}
	if err := sess.Authenticate(); err != nil {
		sess.Close()
		s.emitAuthFailed(ctx, err)
		return err
	}
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()

	s.emit(ctx, events.EventSessionOpened, "")
	return nil
}

// close may run on the context's AfterFunc goroutine.
func (s *Shell) close() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()

	if sess == nil || sess.State() == rcon.StateClosed {
		return
	}
	sess.Close()
	s.emit(context.Background(), events.EventSessionClosed, "")
}

func (s *Shell) session() *rcon.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *Shell) execute(ctx context.Context, command string) {
	started := time.Now()
	resp, err := s.session().Execute(command)
	duration := time.Since(started)

	if err != nil {
		s.printError(err)
		if errors.Is(err, rcon.ErrConnectionClosed) {
			s.info.Fprintln(s.opts.Out, "The connection is gone. Use :reconnect to open a new one.")
		}
	} else {
		fmt.Fprint(s.opts.Out, resp)
		if resp != "" && !strings.HasSuffix(resp, "\n") {
			fmt.Fprintln(s.opts.Out)
		}
	}

	if s.opts.Bus == nil {
		return
	}
	payload := events.CommandPayload{
		ID:        uuid.NewString(),
		Profile:   s.opts.Profile.Name,
		Address:   s.address(),
		Command:   command,
		Response:  resp,
		Source:    console.SourceShell,
		StartedAt: started,
		Duration:  duration,
	}
	if err != nil {
		payload.ErrorKind = string(rcon.Kind(err))
		payload.Error = err.Error()
	}
	s.opts.Bus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:    events.EventCommandExecuted,
		Source:  console.SourceShell,
		Payload: payload,
	})
}

func (s *Shell) printError(err error) {
	s.errc.Fprintf(s.opts.Out, "error (%s): %v\n", rcon.Kind(err), err)
}

func (s *Shell) address() string {
	return s.opts.Profile.SessionConfig().Address()
}

func (s *Shell) emit(ctx context.Context, typ events.EventType, reason string) {
	s.logger.Debug().Str("event", string(typ)).Str("profile", s.opts.Profile.Name).Msg("session event")
	if s.opts.Bus == nil {
		return
	}
	s.opts.Bus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:   typ,
		Source: console.SourceShell,
		Payload: events.SessionPayload{
			Profile: s.opts.Profile.Name,
			Address: s.address(),
			Source:  console.SourceShell,
			Reason:  reason,
		},
	})
}

func (s *Shell) emitAuthFailed(ctx context.Context, err error) {
	if errors.Is(err, rcon.ErrAuthentication) {
		s.emit(ctx, events.EventAuthFailed, err.Error())
	}
}
