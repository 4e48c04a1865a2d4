package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	apiv1 "github.com/offspot-lab/offspot-metrics/internal/api/v1"
	corecfg "github.com/offspot-lab/offspot-metrics/internal/core/config"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage/postgres"
	"github.com/offspot-lab/offspot-metrics/internal/indicators"
	"github.com/offspot-lab/offspot-metrics/internal/ingest"
	"github.com/offspot-lab/offspot-metrics/internal/kpis"
	"github.com/offspot-lab/offspot-metrics/internal/logwatch"
	"github.com/offspot-lab/offspot-metrics/internal/migrations"
	"github.com/offspot-lab/offspot-metrics/internal/packages"
	"github.com/offspot-lab/offspot-metrics/internal/processing"
	"github.com/offspot-lab/offspot-metrics/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"packages_conf", cfg.Packages.ConfFile,
		"logs_dir", cfg.Logs.Dir,
		"item_visits", cfg.Processing.RecordItemVisits,
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.URL,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Load the package configuration shared with the reverse proxy
	conf, err := packages.LoadFile(cfg.Packages.ConfFile, packages.DefaultAppIdents)
	if err != nil {
		slog.Error("Failed to load package configuration", "error", err)
		os.Exit(1)
	}

	// 4. Build the ingestion pipeline and the processing engine
	dispatcherOpts := []ingest.DispatcherOption{}
	indicatorRegistry := indicators.DefaultRegistry()
	if cfg.Processing.RecordItemVisits {
		dispatcherOpts = append(dispatcherOpts, ingest.WithItemVisits())
		indicatorRegistry = indicators.WithItemVisits(indicatorRegistry)
	}
	dispatcher := ingest.NewDispatcher(conf, dispatcherOpts...)

	processor := processing.New(dbAdapter, indicatorRegistry, kpis.DefaultRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Restore processing state before touching any log line
	if err := processor.Startup(ctx); err != nil {
		slog.Error("Failed to restore processing state", "error", err)
		os.Exit(1)
	}

	// 6. Initialize the query API server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode, cfg.Server.Origins())
	apiv1.NewService(dbAdapter).RegisterRoutes(srv.Engine)

	// 7. Start Services
	watcher := logwatch.New(cfg.Logs.Dir, cfg.Logs.ChannelBufferSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(gctx)
	})

	g.Go(func() error {
		for line := range watcher.Lines() {
			logData, ok := ingest.Interpret(line)
			if !ok {
				continue
			}
			ins := dispatcher.Inputs(logData)
			if len(ins) == 0 {
				continue
			}
			if err := processor.ProcessInputs(gctx, logData.Ts, ins); err != nil {
				slog.Error("Failed to process log line", "error", err)
			}
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.WatchdogInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := processor.CheckForInactivity(gctx); err != nil {
					slog.Error("Inactivity tick failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		return srv.Run(gctx)
	})

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
	}

	// Close the current minute so a clean restart resumes exactly here.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := processor.Flush(flushCtx); err != nil {
		slog.Error("Final flush failed", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
