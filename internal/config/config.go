package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"github.com/mmrzaf/etlflow/internal/domain"
)

type Config struct {
	FlowsDir           string
	MappingsDir        string
	CatalogPath        string
	RunsDBPath         string
	RunsDBDSN          string
	StoreKind          string
	StoreDSN           string
	StoreSchema        string
	StoreDatabase      string
	LogLevel           string
	BindAddr           string
	ChunkSize          int
	ErrorPolicy        string
	SkipEmptyRows      bool
	TruncateLongFields bool
	TransformsFile     string
}

// Load reads ETLFLOW_* variables. A .env file in the working directory fills in
// anything the environment does not already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		FlowsDir:           getEnv("ETLFLOW_FLOWS_DIR", "./flows"),
		MappingsDir:        getEnv("ETLFLOW_MAPPINGS_DIR", "./mappings"),
		CatalogPath:        getEnv("ETLFLOW_CATALOG", "./catalog.yaml"),
		RunsDBPath:         getEnv("ETLFLOW_RUNS_DB", "./etlflow-runs.sqlite"),
		RunsDBDSN:          getEnv("ETLFLOW_DB", ""),
		StoreKind:          getEnv("ETLFLOW_STORE_KIND", "sqlite"),
		StoreDSN:           getEnv("ETLFLOW_STORE_DSN", "./etlflow-data.sqlite"),
		StoreSchema:        getEnv("ETLFLOW_STORE_SCHEMA", "public"),
		StoreDatabase:      getEnv("ETLFLOW_STORE_DATABASE", ""),
		LogLevel:           getEnv("ETLFLOW_LOG_LEVEL", "info"),
		BindAddr:           getEnv("ETLFLOW_BIND_ADDR", ":8080"),
		ChunkSize:          getEnvInt("ETLFLOW_CHUNK_SIZE", domain.DefaultChunkSize),
		ErrorPolicy:        getEnv("ETLFLOW_ERROR_POLICY", string(domain.ErrorPolicyContinue)),
		SkipEmptyRows:      getEnvBool("ETLFLOW_SKIP_EMPTY_ROWS", true),
		TruncateLongFields: getEnvBool("ETLFLOW_TRUNCATE_LONG_FIELDS", false),
		TransformsFile:     getEnv("ETLFLOW_TRANSFORMS_FILE", ""),
	}
}

func (c *Config) Validate() error {
	var result *multierror.Error
	switch c.StoreKind {
	case "sqlite", "postgres", "memory":
	default:
		result = multierror.Append(result, fmt.Errorf("ETLFLOW_STORE_KIND must be sqlite, postgres or memory, got %q", c.StoreKind))
	}
	if c.StoreKind != "memory" && strings.TrimSpace(c.StoreDSN) == "" {
		result = multierror.Append(result, fmt.Errorf("ETLFLOW_STORE_DSN is required for store kind %s", c.StoreKind))
	}
	if c.ChunkSize < 1 || c.ChunkSize > domain.MaxChunkSize {
		result = multierror.Append(result, fmt.Errorf("ETLFLOW_CHUNK_SIZE must be between 1 and %d", domain.MaxChunkSize))
	}
	switch domain.ErrorPolicy(c.ErrorPolicy) {
	case domain.ErrorPolicyStop, domain.ErrorPolicyContinue:
	default:
		result = multierror.Append(result, fmt.Errorf("ETLFLOW_ERROR_POLICY must be stop or continue, got %q", c.ErrorPolicy))
	}
	return result.ErrorOrNil()
}

// FlowOptions turns the configured defaults into run options.
func (c *Config) FlowOptions() domain.FlowOptions {
	return domain.FlowOptions{
		ChunkSize:          c.ChunkSize,
		ErrorPolicy:        domain.ErrorPolicy(c.ErrorPolicy),
		SkipEmptyRows:      c.SkipEmptyRows,
		TruncateLongFields: c.TruncateLongFields,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}
