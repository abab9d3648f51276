package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/apphub_installer/internal/catalog"
	"github.com/italolelis/apphub_installer/internal/config"
	"github.com/italolelis/apphub_installer/internal/download"
	"github.com/italolelis/apphub_installer/internal/inspector"
	"github.com/italolelis/apphub_installer/internal/installer"
	"github.com/italolelis/apphub_installer/internal/installstate"
	"github.com/italolelis/apphub_installer/internal/logctx"
	"github.com/italolelis/apphub_installer/internal/netstatus"
	"github.com/italolelis/apphub_installer/internal/platform"
	"github.com/italolelis/apphub_installer/internal/storage/sqlite"
	"github.com/italolelis/apphub_installer/internal/telemetry"
	"github.com/jonboulle/clockwork"
)

const catalogFetchTimeout = time.Minute

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	telemetry *telemetry.Telemetry
	db        *sql.DB
	artifacts *sqlite.InstrumentedArtifactRepository
	catalog   *catalog.Provider
	network   *netstatus.Monitor
	inspector *inspector.Directory
	registry  *installstate.Registry
	engine    *download.Engine
	installer *installer.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    cfg.TelemetryServiceName,
		ServiceVersion: cfg.TelemetryServiceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		_ = tel.Shutdown(ctx)

		return nil, fmt.Errorf("DB error: %w", err)
	}

	// =========================================================================
	// Start Catalog
	catalogClient := download.NewHTTPClient(cfg.ConnectTimeout)
	catalogClient.Timeout = catalogFetchTimeout

	provider := catalog.NewProvider(
		cfg.CatalogURL,
		catalogClient,
		sqlite.NewInstrumentedCatalogCache(db, tel),
		cfg.CatalogCacheTTL,
	)

	// =========================================================================
	// Start Install Pipeline
	opener := platform.NewSystemOpener()
	network := netstatus.NewMonitor(cfg.ConnectivityProbeAddr, cfg.ProbeTimeout)
	dir := inspector.NewDirectory(cfg.AppsDir, opener)
	registry := installstate.NewRegistry(dir, tel)
	artifacts := sqlite.NewInstrumentedArtifactRepository(db, tel)

	transferClient := download.NewHTTPClient(cfg.ConnectTimeout)
	validator := download.NewValidator(transferClient, network, cfg.ProbeTimeout, tel)
	engine := download.NewEngine(transferClient, network, download.EngineConfig{
		TempDir:         cfg.TempDir,
		TransferTimeout: cfg.TransferTimeout,
	}, tel)

	orch := installer.New(registry, validator, engine, opener, artifacts, tel, installer.Config{
		DownloadDir: cfg.DownloadDir,
		SettleDelay: cfg.SettleDelay,
		Clock:       clockwork.NewRealClock(),
	})

	logger.DebugContext(ctx, "components initialized",
		"apps_dir", cfg.AppsDir,
		"download_dir", cfg.DownloadDir,
		"db_path", cfg.DBPath,
	)

	return &app{
		cfg:       cfg,
		telemetry: tel,
		db:        db,
		artifacts: artifacts,
		catalog:   provider,
		network:   network,
		inspector: dir,
		registry:  registry,
		engine:    engine,
		installer: orch,
	}, nil
}

// refresh loads the catalog and recomputes every app's state.
func (a *app) refresh(ctx context.Context, force bool) (*catalog.Catalog, error) {
	c, err := a.catalog.Fetch(ctx, force)
	if err != nil {
		return nil, err
	}

	if err := a.registry.RefreshAll(ctx, c.Apps); err != nil {
		return nil, fmt.Errorf("failed to refresh install states: %w", err)
	}

	return c, nil
}

// reconcile recomputes states against the last loaded catalog without
// touching the network.
func (a *app) reconcile(ctx context.Context) {
	c := a.catalog.Current()
	if c == nil {
		return
	}

	if err := a.registry.RefreshAll(ctx, c.Apps); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to reconcile install states", "err", err)
	}
}

func (a *app) appName(appID string) string {
	if c := a.catalog.Current(); c != nil {
		if rec, ok := c.App(appID); ok {
			return rec.Name
		}
	}

	return appID
}

// close cancels in-flight attempts, waits for them and releases resources.
func (a *app) close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	a.installer.CancelAll()
	a.installer.Wait()

	if err := a.db.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close database", "err", err)
	}

	if err := a.telemetry.Shutdown(ctx); err != nil {
		logger.ErrorContext(ctx, "failed to shutdown telemetry", "err", err)
	}
}
