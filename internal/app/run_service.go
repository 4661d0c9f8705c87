package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmrzaf/etlflow/internal/config"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/exec"
	"github.com/mmrzaf/etlflow/internal/hashing"
	"github.com/mmrzaf/etlflow/internal/infra/repos/flows"
	"github.com/mmrzaf/etlflow/internal/infra/repos/runs"
	"github.com/mmrzaf/etlflow/internal/infra/targets"
	"github.com/mmrzaf/etlflow/internal/infra/targets/memory"
	"github.com/mmrzaf/etlflow/internal/infra/targets/postgres"
	"github.com/mmrzaf/etlflow/internal/infra/targets/sqlite"
	"github.com/mmrzaf/etlflow/internal/logging"
	"github.com/mmrzaf/etlflow/internal/store"
	"github.com/mmrzaf/etlflow/internal/transforms"
	"github.com/mmrzaf/etlflow/internal/validation"
)

var ErrRunNotActive = errors.New("run is not active")

// StoreOpener returns the entity store a run writes to. Dry runs get a throwaway store.
type StoreOpener func(ctx context.Context, dryRun bool) (store.EntityStore, error)

// ProcessOptions override a flow for one run. Nil pointers and empty values keep the
// flow's own settings.
type ProcessOptions struct {
	RunID              string
	SourcePath         string
	Format             domain.FileKind
	DryRun             bool
	ChunkSize          *int
	ErrorPolicy        domain.ErrorPolicy
	SkipEmptyRows      *bool
	TruncateLongFields *bool
	Progress           exec.ProgressFunc
}

type RunService struct {
	cfg       *config.Config
	flowRepo  flows.Repository
	runRepo   runs.Repository
	catalog   *domain.Catalog
	engine    *transforms.Engine
	validator *validation.Validator
	openStore StoreOpener
	logger    *logging.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunService(
	cfg *config.Config,
	flowRepo flows.Repository,
	runRepo runs.Repository,
	catalog *domain.Catalog,
	engine *transforms.Engine,
	logger *logging.Logger,
) *RunService {
	if logger == nil {
		logger = logging.Nop()
	}
	if engine == nil {
		engine = transforms.NewEngine(nil)
	}
	if catalog == nil {
		catalog = &domain.Catalog{}
	}
	s := &RunService{
		cfg:       cfg,
		flowRepo:  flowRepo,
		runRepo:   runRepo,
		catalog:   catalog,
		engine:    engine,
		validator: validation.NewValidator(engine, catalog),
		logger:    logger.WithComponent("app"),
		active:    make(map[string]context.CancelFunc),
	}
	s.openStore = s.openConfiguredStore
	return s
}

// WithStoreOpener replaces how stores are opened.
func (s *RunService) WithStoreOpener(o StoreOpener) *RunService {
	s.openStore = o
	return s
}

func (s *RunService) Catalog() *domain.Catalog { return s.catalog }

func (s *RunService) Validator() *validation.Validator { return s.validator }

func (s *RunService) openConfiguredStore(ctx context.Context, dryRun bool) (store.EntityStore, error) {
	kind := s.cfg.StoreKind
	if dryRun || kind == "memory" {
		return memory.New(s.catalog), nil
	}
	dsn := resolveStoreDSN(kind, s.cfg.StoreDSN, s.cfg.StoreDatabase)
	switch kind {
	case "sqlite":
		s.logger.Debugw("store.open", map[string]any{"kind": kind, "path": dsn})
		return sqlite.Open(ctx, dsn, s.catalog)
	case "postgres":
		s.logger.Debugw("store.open", map[string]any{"kind": kind, "dsn": targets.RedactDSN(dsn), "schema": s.cfg.StoreSchema})
		return postgres.Open(ctx, dsn, s.cfg.StoreSchema, s.catalog)
	default:
		return nil, fmt.Errorf("unsupported store kind: %s", kind)
	}
}

// CheckStore probes the configured entity store.
func (s *RunService) CheckStore(ctx context.Context) (*StoreCheck, error) {
	dsn := resolveStoreDSN(s.cfg.StoreKind, s.cfg.StoreDSN, s.cfg.StoreDatabase)
	return CheckStore(ctx, s.cfg.StoreKind, dsn, s.cfg.StoreSchema, s.catalog)
}

// FlowForFile builds an ad-hoc flow importing path with the configured defaults.
func (s *RunService) FlowForFile(path string, def *domain.MappingDefinition) *domain.Flow {
	san := domain.DefaultSanitizerConfig()
	name := def.Name
	if name == "" {
		name = filepath.Base(path)
	}
	return &domain.Flow{
		Name:            name,
		SourceConfig:    domain.SourceConfig{Path: path},
		SanitizerConfig: &san,
		Mapping:         domain.InlineMapping(def),
		Options:         s.cfg.FlowOptions(),
	}
}

// ResolveMapping loads a mapping from a file path, or by name from the mappings directory.
func (s *RunService) ResolveMapping(ref string) (*domain.MappingDefinition, error) {
	if _, err := os.Stat(ref); err == nil {
		return flows.LoadMappingFile(ref)
	}
	if s.flowRepo == nil {
		return nil, fmt.Errorf("mapping not found: %s", ref)
	}
	return s.flowRepo.Mapping(ref)
}

func (s *RunService) ListFlows() ([]*domain.Flow, error) {
	if s.flowRepo == nil {
		return []*domain.Flow{}, nil
	}
	return s.flowRepo.List()
}

func (s *RunService) GetFlow(id string) (*domain.Flow, error) {
	if s.flowRepo == nil {
		return nil, fmt.Errorf("flow not found: %s", id)
	}
	return s.flowRepo.Get(id)
}

func (s *RunService) ValidateFlow(flow *domain.Flow) error {
	return s.validator.ValidateFlow(flow)
}

func (s *RunService) ValidateMapping(def *domain.MappingDefinition) error {
	return s.validator.ValidateMapping(def)
}

func applyOverrides(flow *domain.Flow, opts ProcessOptions) *domain.Flow {
	f := *flow
	if opts.SourcePath != "" {
		f.SourceConfig.Path = opts.SourcePath
	}
	if opts.Format != "" {
		f.SourceConfig.Type = opts.Format
	}
	if opts.ChunkSize != nil {
		f.Options.ChunkSize = *opts.ChunkSize
	}
	if opts.ErrorPolicy != "" {
		f.Options.ErrorPolicy = opts.ErrorPolicy
	}
	if opts.SkipEmptyRows != nil {
		f.Options.SkipEmptyRows = *opts.SkipEmptyRows
	}
	if opts.TruncateLongFields != nil {
		f.Options.TruncateLongFields = *opts.TruncateLongFields
	}
	return &f
}

// Process runs a flow to completion on the caller's goroutine. The error is non-nil only
// when the run could not be attempted; run failures are reported in the returned FlowRun.
func (s *RunService) Process(ctx context.Context, flow *domain.Flow, opts ProcessOptions) (domain.FlowRun, error) {
	f := applyOverrides(flow, opts)
	if err := s.validator.ValidateFlow(f); err != nil {
		return domain.FlowRun{}, fmt.Errorf("flow validation failed: %w", err)
	}

	flowHash, err := hashing.HashFlow(f)
	if err != nil {
		return domain.FlowRun{}, fmt.Errorf("failed to hash flow: %w", err)
	}
	kind := s.cfg.StoreKind
	if opts.DryRun {
		kind = "memory"
	}
	runHash, err := hashing.HashRunConfig(flowHash, kind, s.cfg.StoreDSN, opts.DryRun)
	if err != nil {
		return domain.FlowRun{}, fmt.Errorf("failed to hash run config: %w", err)
	}

	st, err := s.openStore(ctx, opts.DryRun)
	if err != nil {
		return domain.FlowRun{}, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	execOpts := []exec.Option{
		exec.WithMetadata("config_hash", flowHash),
		exec.WithMetadata("run_config_hash", runHash),
		exec.WithMetadata("store_kind", kind),
		exec.WithMetadata("dry_run", opts.DryRun),
		exec.WithProgress(func(run domain.FlowRun) {
			s.logger.Debugw("run.progress", map[string]any{"run_id": run.ID, "progress": run.Progress})
			if opts.Progress != nil {
				opts.Progress(run)
			}
		}),
	}
	if f.ID != "" {
		execOpts = append(execOpts, exec.WithMetadata("flow_id", f.ID))
	}
	if opts.RunID != "" {
		execOpts = append(execOpts, exec.WithRunID(opts.RunID))
	}
	if s.runRepo != nil {
		execOpts = append(execOpts, exec.WithRecorder(s.runRepo))
	}

	s.logger.Info("Starting flow %s: source=%s, store=%s, dry_run=%t", f.Name, f.SourceConfig.Path, kind, opts.DryRun)
	run := exec.NewExecutor(st, s.engine, s.logger).Execute(ctx, f, execOpts...)
	s.logger.Info("Flow %s finished: status=%s imported=%d skipped=%d errors=%d",
		f.Name, run.Status, run.ImportedRows, run.SkippedRows, run.ErrorCount)
	return run, nil
}

// StartRun validates the request, records a pending run and executes it in the
// background. The returned run is the pending snapshot.
func (s *RunService) StartRun(req *domain.RunRequest) (domain.FlowRun, error) {
	if err := s.validator.ValidateRunRequest(req); err != nil {
		return domain.FlowRun{}, fmt.Errorf("invalid run request: %w", err)
	}

	var (
		flow *domain.Flow
		err  error
	)
	if req.FlowID != "" {
		flow, err = s.GetFlow(req.FlowID)
		if err != nil {
			return domain.FlowRun{}, fmt.Errorf("failed to load flow: %w", err)
		}
	} else {
		flow = req.Flow
		if flow.Mapping.Definition == nil && flow.Mapping.Path != "" {
			def, err := s.ResolveMapping(flow.Mapping.Path)
			if err != nil {
				return domain.FlowRun{}, fmt.Errorf("failed to load mapping: %w", err)
			}
			resolved := *flow
			resolved.Mapping = domain.InlineMapping(def)
			flow = &resolved
		}
	}

	opts := ProcessOptions{
		RunID:       uuid.NewString(),
		SourcePath:  req.SourcePath,
		DryRun:      req.DryRun,
		ChunkSize:   req.ChunkSize,
		ErrorPolicy: req.ErrorPolicy,
	}
	f := applyOverrides(flow, opts)
	if err := s.validator.ValidateFlow(f); err != nil {
		return domain.FlowRun{}, fmt.Errorf("flow validation failed: %w", err)
	}

	pending := domain.NewFlowRun(opts.RunID, f.Name, f.SourceConfig.Path, 0)
	if s.runRepo != nil {
		if err := s.runRepo.Save(context.Background(), pending); err != nil {
			return domain.FlowRun{}, fmt.Errorf("failed to create run: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active[opts.RunID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.active, opts.RunID)
			s.mu.Unlock()
		}()
		if _, err := s.Process(ctx, f, opts); err != nil {
			s.logger.Error("Run %s failed: %v", opts.RunID, err)
			s.saveFailed(pending, err.Error())
		}
	}()

	return pending, nil
}

func (s *RunService) saveFailed(run domain.FlowRun, msg string) {
	if s.runRepo == nil {
		return
	}
	failed := run.Fail(time.Now(), msg, nil)
	if err := s.runRepo.Save(context.Background(), failed); err != nil {
		s.logger.Error("Failed to update run %s: %v", run.ID, err)
	}
}

// CancelRun stops a background run. The run ends as failed with cancelled metadata.
func (s *RunService) CancelRun(id string) error {
	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotActive, id)
	}
	cancel()
	return nil
}

// Wait blocks until every background run has finished.
func (s *RunService) Wait() {
	s.wg.Wait()
}

func (s *RunService) GetRun(ctx context.Context, id string) (domain.FlowRun, error) {
	if s.runRepo == nil {
		return domain.FlowRun{}, fmt.Errorf("%w: %s", runs.ErrNotFound, id)
	}
	return s.runRepo.Get(ctx, id)
}

func (s *RunService) ListRuns(ctx context.Context, limit int, status string) ([]domain.FlowRun, error) {
	if s.runRepo == nil {
		return []domain.FlowRun{}, nil
	}
	return s.runRepo.List(ctx, limit, status)
}
