// Package health periodically probes every configured profile and keeps
// the latest reachability result for the gateway to report.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/util"
)

// ProfileLister supplies the profiles to probe. *config.Config satisfies it.
type ProfileLister interface {
	GetProfiles() []config.Profile
}

// Status is the outcome of the most recent probe of one profile.
type Status struct {
	Profile       string         `json:"profile"`
	Address       string         `json:"address"`
	Reachable     bool           `json:"reachable"`
	Authenticated bool           `json:"authenticated"`
	ErrorKind     rcon.ErrorKind `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	Latency       int64          `json:"latency_ms"`
	CheckedAt     time.Time      `json:"checked_at"`
}

// Healthy reports whether the profile accepted its password.
func (s Status) Healthy() bool {
	return s.Reachable && s.Authenticated
}

// Monitor probes profiles by connecting and authenticating. No command is
// executed.
type Monitor struct {
	profiles ProfileLister
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a monitor that probes every interval.
func NewMonitor(profiles ProfileLister, interval time.Duration) *Monitor {
	return &Monitor{
		profiles: profiles,
		interval: interval,
		logger:   util.ComponentLogger("health"),
		statuses: make(map[string]Status),
	}
}

// Start probes immediately and then on every tick until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		return
	}

	m.logger.Info().Dur("interval", m.interval).Msg("health monitor started")
	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every profile concurrently and waits for the results.
// Profiles removed from the configuration are forgotten.
func (m *Monitor) CheckAll(ctx context.Context) {
	profiles := m.profiles.GetProfiles()

	results := make([]Status, len(profiles))
	var wg sync.WaitGroup
	for i, p := range profiles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.probe(ctx, p)
		}()
	}
	wg.Wait()

	next := make(map[string]Status, len(results))
	for _, st := range results {
		next[st.Profile] = st
	}

	m.mu.Lock()
	for name, st := range next {
		if prev, ok := m.statuses[name]; ok && prev.Healthy() && !st.Healthy() {
			m.logger.Warn().
				Str("profile", name).
				Str("kind", string(st.ErrorKind)).
				Str("error", st.Error).
				Msg("profile became unhealthy")
		}
	}
	m.statuses = next
	m.mu.Unlock()
}

func (m *Monitor) probe(ctx context.Context, p config.Profile) Status {
	cfg := p.SessionConfig()
	st := Status{
		Profile:   p.Name,
		Address:   cfg.Address(),
		CheckedAt: time.Now().UTC(),
	}

	start := time.Now()
	sess, err := rcon.DialConfig(ctx, cfg)
	if err == nil {
		st.Reachable = true
		err = sess.Authenticate()
		sess.Close()
	}
	st.Latency = time.Since(start).Milliseconds()

	if err != nil {
		st.ErrorKind = rcon.Kind(err)
		st.Error = err.Error()
		return st
	}
	st.Authenticated = true
	return st
}

// Statuses returns the latest results ordered by profile name.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out
}
