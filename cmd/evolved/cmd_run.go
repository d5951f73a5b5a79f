package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/control"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/daemon"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/observability"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var runTargets []string // Overrides scan_targets from the config file

func init() {
	runCmd.Flags().StringArrayVar(&runTargets, "target", nil,
		"Artifact to scan for proposals (repeatable, overrides the config file)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runDaemon wires the pipeline, serves the control and metrics surfaces,
// and loops over scan passes until SIGINT or SIGTERM.
func runDaemon(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer("evolved", cfg.OTLPEndpoint)
		if err != nil {
			rt.logger.Warn("tracer_init_failed", "error", err.Error())
		} else {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(flushCtx); err != nil {
					rt.logger.Warn("tracer_shutdown_failed", "error", err.Error())
				}
			}()
		}
	}

	// gRPC health surface. A serve failure downs the whole daemon rather
	// than leaving a pipeline nobody can probe.
	ctl := control.NewServer(cfg.ControlAddr, rt.logger)
	serveErr, err := ctl.StartBackground()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Control server on %s: %v\n", cfg.ControlAddr, err)
		os.Exit(1)
	}
	ctl.SetServing(true)
	daemon.SafeGo(rt.logger, "control_server_watch", func() {
		if err := <-serveErr; err != nil {
			rt.logger.Error("control_server_failed", "error", err.Error())
			stop()
		}
	}, nil)

	// Health reports NOT_SERVING while the pipeline is paused.
	defer rt.bus.Subscribe("EvolutionPaused", func(context.Context, commbus.Message) (any, error) {
		ctl.SetServing(false)
		return nil, nil
	})()
	defer rt.bus.Subscribe("EvolutionResumed", func(context.Context, commbus.Message) (any, error) {
		ctl.SetServing(true)
		return nil, nil
	})()

	// Prometheus scrape endpoint and the admin API share one listener.
	metrics := control.NewMetricsServer(cfg.MetricsAddr, rt.logger)
	metrics.Mount("/api/", control.NewAdminAPI(rt.bus, rt.logger).Handler())
	daemon.SafeGo(rt.logger, "metrics_server", func() {
		if err := metrics.Start(ctx); err != nil {
			rt.logger.Error("metrics_server_failed", "error", err.Error())
			stop()
		}
	}, nil)

	targets := cfg.ScanTargets
	if len(runTargets) > 0 {
		targets = runTargets
	}
	interval := time.Duration(cfg.ScanIntervalSeconds) * time.Second
	rt.logger.Info("evolved_started",
		"control", cfg.ControlAddr,
		"metrics", cfg.MetricsAddr,
		"scan_interval", interval.String(),
		"targets", len(targets))

	if err := rt.daemon.RunLoop(ctx, interval, targets); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error("daemon_loop_failed", "error", err.Error())
	}

	ctl.SetServing(false)
	ctl.ShutdownWithTimeout(5 * time.Second)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Close(flushCtx); err != nil {
		rt.logger.Warn("shutdown_incomplete", "error", err.Error())
	}
	rt.logger.Info("evolved_stopped")
}
