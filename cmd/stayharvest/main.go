// Package main wires together the stay harvest service binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlasgrid/stayharvest/internal/api"
	"github.com/atlasgrid/stayharvest/internal/clock/system"
	"github.com/atlasgrid/stayharvest/internal/config"
	"github.com/atlasgrid/stayharvest/internal/enrich"
	"github.com/atlasgrid/stayharvest/internal/extract"
	"github.com/atlasgrid/stayharvest/internal/fetch"
	"github.com/atlasgrid/stayharvest/internal/geo"
	"github.com/atlasgrid/stayharvest/internal/harvest"
	"github.com/atlasgrid/stayharvest/internal/logging"
	"github.com/atlasgrid/stayharvest/internal/metrics"
	gcppublisher "github.com/atlasgrid/stayharvest/internal/publisher/pubsub"
	"github.com/atlasgrid/stayharvest/internal/run"
	"github.com/atlasgrid/stayharvest/internal/search"
	"github.com/atlasgrid/stayharvest/internal/session"
	snapshotgcs "github.com/atlasgrid/stayharvest/internal/snapshot/gcs"
	snapshotlocal "github.com/atlasgrid/stayharvest/internal/snapshot/local"
	"github.com/atlasgrid/stayharvest/internal/store/postgres"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "stayharvest",
		Short:         "Incremental harvester for geographically partitioned stay listings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	root.AddCommand(newCrawlCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl pass and exit",
		Long: `Resumes the crawl from the persisted cursor, processes up to
tiles_per_run tiles honoring freshness windows and run budgets, and exits.
Suitable for cron or Cloud Run jobs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			summary, err := app.runner.Run(ctx)
			if err != nil {
				return fmt.Errorf("crawl run: %w", err)
			}
			app.logger.Info("crawl run complete",
				zap.Int("tiles_processed", summary.TilesProcessed),
				zap.Int("records_found", summary.RecordsFound),
				zap.Int("basic_saved", summary.BasicSaved),
				zap.Int("detailed_saved", summary.DetailedSaved))
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operational API and crawl on demand",
		Long: `Starts the HTTP server exposing health probes, store statistics,
Prometheus metrics and the POST /v1/runs crawl trigger.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer app.close()

			apiServer := api.NewServer(app.store, app.runner, app.logger.Named("api"))
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", app.cfg.Server.Port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			go func() {
				app.logger.Info("http server started", zap.Int("port", app.cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					app.logger.Error("http server error", zap.Error(err))
					stop()
				}
			}()

			<-ctx.Done()
			app.logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.logger.Error("server shutdown error", zap.Error(err))
			}
			app.logger.Info("shutdown complete")
			return nil
		},
	}
}

// application bundles the wired subsystems shared by the commands.
type application struct {
	cfg    config.Config
	logger *zap.Logger
	store  *postgres.StateStore
	runner *tileRunner
	closes []func()
}

func (a *application) close() {
	for i := len(a.closes) - 1; i >= 0; i-- {
		a.closes[i]()
	}
}

func buildApp(ctx context.Context) (*application, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &application{cfg: cfg, logger: logger}
	app.closes = append(app.closes, func() {
		_ = logger.Sync()
	})

	metrics.Init()
	clock := system.New()

	store, err := postgres.NewStateStore(ctx, postgres.StateStoreConfig{
		DSN:          cfg.DB.DSN,
		MaxConns:     int32(cfg.DB.MaxConns),
		MinConns:     int32(cfg.DB.MinConns),
		TileWindow:   cfg.TileWindow(),
		RecordWindow: cfg.RecordWindow(),
	}, clock)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("state store init: %w", err)
	}
	app.store = store
	app.closes = append(app.closes, store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		app.close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	tiles, err := geo.LoadTilesFile(cfg.Crawl.TileFile)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("load tile file %s: %w", cfg.Crawl.TileFile, err)
	}
	logger.Info("tile partition loaded", zap.Int("tiles", len(tiles)))

	sessions := session.NewFileSource(cfg.Session.File, session.Defaults{
		Locale:         cfg.Provider.Locale,
		Currency:       cfg.Provider.Currency,
		Query:          cfg.Provider.Query,
		ViewportWidth:  cfg.Session.ViewportWidth,
		ViewportHeight: cfg.Session.ViewportHeight,
	})

	fetcher := fetch.New(
		&http.Client{Timeout: cfg.RequestTimeout()},
		fetch.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries),
		logger.Named("fetch"),
		fetch.WithOnRetry(func(int, error) { metrics.ObserveRetry() }),
	)

	snapshots, err := buildSnapshotStore(ctx, cfg)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("snapshot store init: %w", err)
	}

	var publisher harvest.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		gcp, err := gcppublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("pubsub init: %w", err)
		}
		app.closes = append(app.closes, func() {
			_ = gcp.Close()
		})
		publisher = gcp
	}

	pager := search.NewPager(
		fetcher,
		extract.New(cfg.Provider.LinkBase, logger.Named("extract")),
		search.NewRequestBuilder(cfg.Provider.BaseURL),
		snapshots,
		clock,
		logger.Named("search"),
	)
	enricher := enrich.New(fetcher, cfg.Provider.BaseURL, clock, logger.Named("enrich"))

	orch := run.New(store, pager, enricher, sessions, publisher, clock, logger.Named("run"), run.Config{
		TilesPerRun:         cfg.Crawl.TilesPerRun,
		MaxNewRecords:       cfg.Crawl.MaxNewRecordsPerRun,
		MaxDetails:          cfg.Crawl.MaxDetailsPerRun,
		MaxTileSpanDegrees:  cfg.Crawl.MaxTileSpanDegrees,
		InterRequestDelay:   cfg.InterRequestDelay(),
		SessionRefreshTiles: cfg.Crawl.SessionRefreshTiles,
		EventsTopic:         cfg.PubSub.TopicName,
	})
	app.runner = &tileRunner{orch: orch, tiles: tiles}
	return app, nil
}

// tileRunner adapts the orchestrator to the api.Runner shape with a fixed
// tile list.
type tileRunner struct {
	orch  *run.Orchestrator
	tiles []harvest.Tile
}

func (r *tileRunner) Run(ctx context.Context) (harvest.RunSummary, error) {
	return r.orch.Run(ctx, r.tiles)
}

func buildSnapshotStore(ctx context.Context, cfg config.Config) (harvest.SnapshotStore, error) {
	switch {
	case cfg.Storage.SnapshotBucket != "":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return snapshotgcs.New(client, snapshotgcs.Config{
			Bucket: cfg.Storage.SnapshotBucket,
			Prefix: cfg.Storage.Prefix,
		})
	case cfg.Storage.LocalDir != "":
		return snapshotlocal.New(snapshotlocal.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return nil, nil
	}
}
