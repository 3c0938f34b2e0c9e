package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconctl/internal/api"
	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/health"
	"github.com/energizer-project/rconctl/internal/scheduler"
	"github.com/energizer-project/rconctl/internal/telemetry"
	"github.com/energizer-project/rconctl/internal/util"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, scheduler and telemetry until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bootstrap(false); err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed with %d errors", len(validation.Errors))
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", util.Version).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Msg("starting rconctl gateway")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	eventBus := events.NewEventBus()

	store, closeHistory, err := openHistory(cfg, eventBus)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer closeHistory()

	runner := console.NewRunner(cfg, eventBus)

	var history api.HistoryReader
	var pruner scheduler.Pruner
	if store != nil {
		history = store
		pruner = store
	}
	apiServer := api.NewServer(cfg, eventBus, runner, history)

	var monitor *health.Monitor
	if interval := cfg.GetGateway().HealthCheckSec; interval > 0 {
		monitor = health.NewMonitor(cfg, time.Duration(interval)*time.Second)
		apiServer.SetHealth(monitor)
	}

	retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
	sched := scheduler.NewScheduler(cfg.GetSchedules(), runner, pruner, retention)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Start(ctx)
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("critical error, initiating shutdown")
	case <-parent.Done():
	}

	cancel()
	eventBus.Emit(context.Background(), events.Event{Type: events.EventShutdown, Source: "main"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds")
	}

	eventBus.Stop()
	log.Info().Msg("rconctl stopped")
	return runErr
}
