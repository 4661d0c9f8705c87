package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmrzaf/etlflow/internal/api"
	"github.com/mmrzaf/etlflow/internal/app"
	"github.com/mmrzaf/etlflow/internal/config"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/repos/flows"
	"github.com/mmrzaf/etlflow/internal/infra/repos/runs"
	"github.com/mmrzaf/etlflow/internal/logging"
	"github.com/mmrzaf/etlflow/internal/transforms"
)

func main() {
	cfg := config.Load()

	flag.StringVar(&cfg.FlowsDir, "flows-dir", cfg.FlowsDir, "Flows directory")
	flag.StringVar(&cfg.MappingsDir, "mappings-dir", cfg.MappingsDir, "Mappings directory")
	flag.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Entity catalog file")
	flag.StringVar(&cfg.RunsDBDSN, "db", cfg.RunsDBDSN, "etlflow metadata database DSN (PostgreSQL)")
	flag.StringVar(&cfg.RunsDBPath, "runs-db", cfg.RunsDBPath, "Runs database path, used when --db is empty")
	flag.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "Bind address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Default rows per chunk")
	flag.Parse()

	logger := logging.NewLogger(cfg.LogLevel).WithComponent("api_main")
	fail := func(stage string, err error) {
		logger.Errorw("startup.failed", map[string]any{"error": err.Error(), "stage": stage})
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fail("config", err)
	}

	registry := transforms.NewRegistry()
	if cfg.TransformsFile != "" {
		if _, err := transforms.LoadAliases(cfg.TransformsFile, registry); err != nil {
			fail("load_transforms", err)
		}
	}

	catalog := &domain.Catalog{}
	if _, err := os.Stat(cfg.CatalogPath); err == nil {
		catalog, err = flows.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			fail("load_catalog", err)
		}
	}

	var runRepo runs.Repository
	if cfg.RunsDBDSN != "" {
		runRepo = runs.NewPostgresRepository(cfg.RunsDBDSN)
	} else {
		runRepo = runs.NewSQLiteRepository(cfg.RunsDBPath)
	}
	if err := runRepo.Init(); err != nil {
		fail("init_run_repo", err)
	}
	defer runRepo.Close()

	runService := app.NewRunService(cfg, flows.NewFileRepository(cfg.FlowsDir, cfg.MappingsDir),
		runRepo, catalog, transforms.NewEngine(registry), logger)
	router := api.NewRouter(api.NewHandler(runService), logger)

	srv := &http.Server{Addr: cfg.BindAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infow("startup.listening", map[string]any{"bind": cfg.BindAddr, "store_kind": cfg.StoreKind})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fail("listen", err)
	}
	runService.Wait()
	logger.Infow("shutdown.complete", nil)
}
