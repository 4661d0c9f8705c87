package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mmrzaf/etlflow/internal/app"
	"github.com/mmrzaf/etlflow/internal/config"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/repos/flows"
	"github.com/mmrzaf/etlflow/internal/infra/repos/runs"
	"github.com/mmrzaf/etlflow/internal/logging"
	"github.com/mmrzaf/etlflow/internal/transforms"
)

var cfg *config.Config

func main() {
	cfg = config.Load()

	rootCmd := &cobra.Command{
		Use:           "etlflow",
		Short:         "Import tabular files into entity stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.FlowsDir, "flows-dir", cfg.FlowsDir, "Flows directory")
	flags.StringVar(&cfg.MappingsDir, "mappings-dir", cfg.MappingsDir, "Mappings directory")
	flags.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "Entity catalog file")
	flags.StringVar(&cfg.RunsDBPath, "runs-db", cfg.RunsDBPath, "Runs database path")
	flags.StringVar(&cfg.RunsDBDSN, "db", cfg.RunsDBDSN, "Runs database DSN (PostgreSQL, overrides --runs-db)")
	flags.StringVar(&cfg.StoreKind, "store-kind", cfg.StoreKind, "Entity store kind (sqlite|postgres|memory)")
	flags.StringVar(&cfg.StoreDSN, "store-dsn", cfg.StoreDSN, "Entity store DSN or file path")
	flags.StringVar(&cfg.TransformsFile, "transforms-file", cfg.TransformsFile, "YAML file of transform aliases")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(mappingCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(sanitizeCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(storeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newEngine() (*transforms.Engine, error) {
	registry := transforms.NewRegistry()
	if cfg.TransformsFile != "" {
		if _, err := transforms.LoadAliases(cfg.TransformsFile, registry); err != nil {
			return nil, err
		}
	}
	return transforms.NewEngine(registry), nil
}

func loadCatalog() (*domain.Catalog, error) {
	if _, err := os.Stat(cfg.CatalogPath); os.IsNotExist(err) {
		return &domain.Catalog{}, nil
	}
	return flows.LoadCatalog(cfg.CatalogPath)
}

func openRunRepo() (runs.Repository, error) {
	var repo runs.Repository
	if cfg.RunsDBDSN != "" {
		repo = runs.NewPostgresRepository(cfg.RunsDBDSN)
	} else {
		repo = runs.NewSQLiteRepository(cfg.RunsDBPath)
	}
	if err := repo.Init(); err != nil {
		return nil, fmt.Errorf("failed to open runs database: %w", err)
	}
	return repo, nil
}

// newService wires the full pipeline. The caller closes the returned run repository.
func newService(withRuns bool) (*app.RunService, runs.Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	engine, err := newEngine()
	if err != nil {
		return nil, nil, err
	}
	catalog, err := loadCatalog()
	if err != nil {
		return nil, nil, err
	}
	var runRepo runs.Repository
	if withRuns {
		runRepo, err = openRunRepo()
		if err != nil {
			return nil, nil, err
		}
	}
	logger := logging.NewLogger(cfg.LogLevel)
	svc := app.NewRunService(cfg, flows.NewFileRepository(cfg.FlowsDir, cfg.MappingsDir), runRepo, catalog, engine, logger)
	return svc, runRepo, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printYAML(v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
