package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/apphub_installer/internal/cleanup"
	"github.com/italolelis/apphub_installer/internal/config"
	"github.com/italolelis/apphub_installer/internal/http/rest"
	"github.com/italolelis/apphub_installer/internal/inspector"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/notifier"
	"github.com/italolelis/apphub_installer/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the installer daemon and its local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, cfg, err := setup(ctx, os.Stdout)
			if err != nil {
				return err
			}

			logctx.LoggerFromContext(ctx).InfoContext(ctx, "apphub installer starting...", "log_level", cfg.LogLevel)

			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	// =========================================================================
	// Start Notification
	notif, closeNotifier, err := buildNotifier(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// =========================================================================
	// Start API Service
	hub := rest.NewEventHub()
	server := setupServer(ctx, a, hub, cfg)

	// =========================================================================
	// Start Watcher
	watcher, err := inspector.NewWatcher(a.inspector.Root(), cfg.WatchDebounce, a.reconcile)
	if err != nil {
		return fmt.Errorf("failed to setup apps watcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Scheduler
	sched, err := setupScheduler(gctx, a, cfg)
	if err != nil {
		return err
	}

	sched.Start(gctx)
	logger.InfoContext(ctx, "scheduler started", "jobs", sched.JobNames())

	hubChanges, unsubscribeHub := a.registry.Subscribe()
	defer unsubscribeHub()

	g.Go(func() error {
		hub.Run(gctx, hubChanges)

		return nil
	})

	if notif != nil {
		changes, unsubscribe := a.registry.Subscribe()
		defer unsubscribe()

		dispatcher := notifier.NewDispatcher(notif, a.appName)

		g.Go(func() error {
			return dispatcher.Run(gctx, changes)
		})
	}

	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			logger.ErrorContext(gctx, "apps watcher stopped", "err", err)
		}

		return nil
	})

	g.Go(func() error {
		logger.InfoContext(gctx, "Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	logger.InfoContext(ctx, "waiting for install requests...",
		"apps_dir", cfg.AppsDir,
		"download_dir", cfg.DownloadDir,
		"refresh_interval", cfg.RefreshInterval.String(),
		"retention", cfg.KeepArtifactsFor.String(),
	)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		a.installer.CancelAll()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		hub.Close()

		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop scheduler", "err", err)
		}

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, a *app, hub *rest.EventHub, cfg *config.Config) *http.Server {
	apps := rest.NewAppsHandler(a.catalog, a.registry, a.installer, a.inspector, a.engine)

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewRouter(apps, hub, a.telemetry),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupScheduler(ctx context.Context, a *app, cfg *config.Config) (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(a.telemetry)
	if err != nil {
		return nil, err
	}

	if err := sched.Every(ctx, "connectivity-probe", cfg.ConnectivityInterval, true, func(ctx context.Context) error {
		a.network.Probe(ctx)

		return nil
	}); err != nil {
		return nil, err
	}

	if err := sched.Every(ctx, "catalog-refresh", cfg.RefreshInterval, true, func(ctx context.Context) error {
		_, err := a.refresh(ctx, false)

		return err
	}); err != nil {
		return nil, err
	}

	if err := sched.Every(ctx, "artifact-cleanup", cfg.CleanupInterval, false, func(ctx context.Context) error {
		n, err := cleanup.DeleteExpiredArtifacts(ctx, a.artifacts, cfg.KeepArtifactsFor, time.Now())
		if n > 0 {
			logctx.LoggerFromContext(ctx).InfoContext(ctx, "expired artifacts removed", "count", n)
		}

		return err
	}); err != nil {
		return nil, err
	}

	return sched, nil
}

// buildNotifier fans out to every configured notifier. It returns a nil
// Notifier when none is configured.
func buildNotifier(ctx context.Context, cfg *config.Config) (notifier.Notifier, func(), error) {
	logger := logctx.LoggerFromContext(ctx)

	var (
		multi   notifier.Multi
		closers []func() error
	)

	if cfg.DiscordWebhookURL != "" {
		multi = append(multi, &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL})
	}

	if cfg.NATSURL != "" {
		n, err := notifier.NewNATSNotifier(ctx, cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, nil, err
		}

		multi = append(multi, n)
		closers = append(closers, n.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("failed to close notifier", "err", err)
			}
		}
	}

	if len(multi) == 0 {
		logger.InfoContext(ctx, "no notifier configured")

		return nil, closeAll, nil
	}

	return multi, closeAll, nil
}
