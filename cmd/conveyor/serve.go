package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor/api"
	audithook "github.com/xraph/conveyor/audit_hook"
	"github.com/xraph/conveyor/engine"
	natshook "github.com/xraph/conveyor/nats_hook"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply store migrations before serving")
	return cmd
}

func runServe(parent context.Context, migrate bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	// Stop runs on a fresh context once ctx is cancelled.
	stopCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	}

	if migrate {
		if err := a.store.Migrate(ctx); err != nil {
			a.close(ctx)
			return fmt.Errorf("migrate: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []engine.Option{engine.WithPrometheus(reg)}

	if a.settings.NatsURL != "" {
		nc, err := natshook.Connect(a.settings.NatsURL)
		if err != nil {
			a.close(ctx)
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				a.logger.Warn("drain nats connection", "error", err)
			}
		}()
		opts = append(opts, engine.WithExtension(natshook.New(nc, natshook.WithLogger(a.logger))))
		a.logger.Info("publishing lifecycle events to nats", "url", a.settings.NatsURL)
	}
	if a.settings.AuditLog {
		opts = append(opts, engine.WithExtension(audithook.New(auditLogRecorder(a), audithook.WithLogger(a.logger))))
	}

	eng, err := a.build(opts...)
	if err != nil {
		a.close(ctx)
		return err
	}
	if err := eng.Start(ctx); err != nil {
		sctx, cancel := stopCtx()
		defer cancel()
		a.close(sctx)
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:              a.settings.ListenAddr,
		Handler:           api.New(eng, api.WithLogger(a.logger), api.WithGatherer(reg)).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server started", "addr", a.settings.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := stopCtx()
		defer cancel()
		return srv.Shutdown(sctx)
	})
	serveErr := g.Wait()

	a.logger.Info("shutting down", "timeout", a.config.ShutdownTimeout)
	sctx, cancel := stopCtx()
	defer cancel()
	a.close(sctx)
	a.logger.Info("server stopped")
	return serveErr
}

// auditLogRecorder writes audit events to the process log.
func auditLogRecorder(a *app) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, ev *audithook.AuditEvent) error {
		a.logger.InfoContext(ctx, "audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"tenant_id", ev.TenantID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
		)
		return nil
	})
}
