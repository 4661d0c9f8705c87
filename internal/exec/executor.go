package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmrzaf/etlflow/internal/detect"
	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/logging"
	"github.com/mmrzaf/etlflow/internal/readers"
	"github.com/mmrzaf/etlflow/internal/relations"
	"github.com/mmrzaf/etlflow/internal/sanitize"
	"github.com/mmrzaf/etlflow/internal/store"
	"github.com/mmrzaf/etlflow/internal/transforms"
	"github.com/mmrzaf/etlflow/internal/validation"
)

const (
	SkipEmptyRow   = "empty_row"
	SkipValidation = "validation"
	SkipDuplicate  = "duplicate"
)

var errStopPolicy = errors.New("row failed with error_policy=stop")

// ProgressFunc receives the run snapshot after every chunk.
type ProgressFunc func(run domain.FlowRun)

// RunRecorder persists run snapshots while the run is in flight.
type RunRecorder interface {
	Save(ctx context.Context, run domain.FlowRun) error
}

type runConfig struct {
	runID    string
	progress ProgressFunc
	recorder RunRecorder
	now      func() time.Time
	metadata map[string]any
}

type Option func(*runConfig)

func WithRunID(id string) Option { return func(c *runConfig) { c.runID = id } }

func WithProgress(fn ProgressFunc) Option { return func(c *runConfig) { c.progress = fn } }

func WithRecorder(r RunRecorder) Option { return func(c *runConfig) { c.recorder = r } }

func WithClock(now func() time.Time) Option { return func(c *runConfig) { c.now = now } }

// WithMetadata attaches a value to the run's metadata from the start.
func WithMetadata(key string, value any) Option {
	return func(c *runConfig) {
		if c.metadata == nil {
			c.metadata = map[string]any{}
		}
		c.metadata[key] = value
	}
}

type Executor struct {
	store    store.EntityStore
	rows     *validation.RowValidator
	syncer   *relations.Syncer
	detector *detect.Detector
	logger   *logging.Logger
}

func NewExecutor(s store.EntityStore, engine *transforms.Engine, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		store:    s,
		rows:     validation.NewRowValidator(engine),
		syncer:   relations.NewSyncer(s, logger),
		detector: detect.NewDetector(),
		logger:   logger.WithComponent("executor"),
	}
}

// runState is the single mutable cell holding the latest FlowRun snapshot.
type runState struct {
	cfg  *runConfig
	flow *domain.Flow
	run  domain.FlowRun
}

func (st *runState) addWarning(row int, msg string, ctx map[string]any) {
	m := domain.RunMessage{Message: msg, Context: ctx, Timestamp: st.cfg.now()}
	if row > 0 {
		r := row
		m.Row = &r
	}
	st.run = st.run.AddWarning(m)
}

func (st *runState) addError(row int, msg string, ctx map[string]any) {
	m := domain.RunMessage{Message: msg, Context: ctx, Timestamp: st.cfg.now()}
	if row > 0 {
		r := row
		m.Row = &r
	}
	st.run = st.run.AddError(m)
}

// Execute imports the flow's source and returns the final run. Every failure, including
// a panic, ends in a Failed run rather than an error.
func (e *Executor) Execute(ctx context.Context, flow *domain.Flow, opts ...Option) (result domain.FlowRun) {
	cfg := &runConfig{now: time.Now}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}

	st := &runState{cfg: cfg, flow: flow}
	st.run = domain.NewFlowRun(cfg.runID, flow.Name, flow.SourceConfig.Path, 0)
	for k, v := range cfg.metadata {
		st.run = st.run.WithMetadata(k, v)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("run.panic", map[string]any{"run_id": cfg.runID, "panic": fmt.Sprint(r)})
			st.run = st.run.Fail(cfg.now(), fmt.Sprintf("unexpected error: %v", r), map[string]any{"stack": string(debug.Stack())})
		}
		e.record(ctx, st)
		e.logger.Infow("run.finished", map[string]any{
			"run_id":   st.run.ID,
			"flow":     st.run.FlowName,
			"status":   string(st.run.Status),
			"total":    st.run.TotalRows,
			"imported": st.run.ImportedRows,
			"skipped":  st.run.SkippedRows,
			"errors":   st.run.ErrorCount,
		})
		result = st.run
	}()

	if problems := flow.Validate(); len(problems) > 0 {
		st.run = st.run.Fail(cfg.now(), "invalid flow configuration: "+strings.Join(problems, "; "), map[string]any{"problems": problems})
		return
	}
	e.record(ctx, st)

	if err := e.run(ctx, st); err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			st.run = st.run.WithMetadata("cancelled", true).UpdateProgress().Fail(cfg.now(), "run cancelled", map[string]any{"error": err.Error()})
		case errors.Is(err, errStopPolicy):
			st.run = st.run.UpdateProgress().Fail(cfg.now(), "run stopped: "+err.Error(), nil)
		default:
			st.run = st.run.UpdateProgress().Fail(cfg.now(), err.Error(), nil)
		}
		return
	}
	st.run = st.run.Complete(cfg.now())
	return
}

func (e *Executor) record(ctx context.Context, st *runState) {
	if st.cfg.recorder == nil {
		return
	}
	if err := st.cfg.recorder.Save(context.WithoutCancel(ctx), st.run); err != nil {
		e.logger.Warnw("run.record_failed", map[string]any{"run_id": st.run.ID, "error": err.Error()})
	}
}

func (e *Executor) run(ctx context.Context, st *runState) error {
	flow := st.flow
	src, err := e.source(st)
	if err != nil {
		return err
	}

	format, err := e.format(flow, src)
	if err != nil {
		return err
	}
	st.run = st.run.WithMetadata("format", format)

	reader, err := readers.Open(format, src, readers.OptionsFrom(flow.FormatConfig))
	if err != nil {
		return err
	}
	defer reader.Close()

	total, err := readers.Count(reader)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	st.run = st.run.WithTotal(total).Start(st.cfg.now())
	e.record(ctx, st)
	e.logger.Infow("run.started", map[string]any{"run_id": st.run.ID, "flow": flow.Name, "total": total, "format": string(format.Kind)})

	ordered := flow.Mapping.Definition.Ordered()
	size := flow.Options.ChunkSize
	chunk := make([]domain.Row, 0, size)
	for reader.Next() {
		row := reader.Row()
		if row.Line == 0 {
			row.Line = reader.Index() + 1
		}
		chunk = append(chunk, row)
		if len(chunk) == size {
			if err := e.processChunk(ctx, st, chunk, ordered); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("read %s: %w", src.Name, err)
	}
	if len(chunk) > 0 {
		return e.processChunk(ctx, st, chunk, ordered)
	}
	return nil
}

// source returns the bytes the reader sees, sanitized when the flow asks for it.
// Spreadsheets are binary and are read as they are.
func (e *Executor) source(st *runState) (readers.Source, error) {
	flow := st.flow
	src := readers.FileSource(flow.SourceConfig.Path)
	if flow.SanitizerConfig == nil || !flow.SanitizerConfig.Enabled || binaryKind(flow, src) {
		return src, nil
	}

	rc, err := src.Open()
	if err != nil {
		return src, fmt.Errorf("open source: %w", err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return src, fmt.Errorf("read source: %w", err)
	}

	clean, report := sanitize.New(*flow.SanitizerConfig).Sanitize(string(raw))
	stats := make([]string, 0, len(report.Stats))
	for stat := range report.Stats {
		stats = append(stats, stat)
	}
	sort.Strings(stats)
	for _, stat := range stats {
		n := report.Stats[stat]
		if n == 0 {
			continue
		}
		st.addWarning(0, fmt.Sprintf("sanitizer: %s (%d)", stat, n), map[string]any{"examples": report.Examples[stat]})
	}
	st.run = st.run.WithMetadata("sanitization", report)
	return readers.BytesSource(src.Name, []byte(clean)), nil
}

func binaryKind(flow *domain.Flow, src readers.Source) bool {
	if flow.SourceConfig.Type == domain.FileKindSpreadsheet {
		return true
	}
	if flow.FormatConfig != nil && flow.FormatConfig.Kind == domain.FileKindSpreadsheet {
		return true
	}
	switch src.Extension() {
	case "xlsx", "xlsm", "xls", "ods":
		return true
	}
	return false
}

// format runs detection unless the override pins down everything detection would find.
func (e *Executor) format(flow *domain.Flow, src readers.Source) (domain.DetectedFormat, error) {
	override := flow.FormatConfig
	if flow.SourceConfig.Type != "" {
		cp := domain.FormatConfig{}
		if override != nil {
			cp = *override
		}
		if cp.Kind == "" {
			cp.Kind = flow.SourceConfig.Type
		}
		override = &cp
	}

	if complete(override) {
		base := domain.DetectedFormat{Quote: `"`, Encoding: domain.EncodingUTF8}
		return base.Merge(override), nil
	}
	detected, err := e.detector.Detect(src)
	if err != nil {
		return domain.DetectedFormat{}, fmt.Errorf("detect format: %w", err)
	}
	return detected.Merge(override), nil
}

func complete(o *domain.FormatConfig) bool {
	if o == nil || o.Kind == "" || o.Encoding == "" {
		return false
	}
	switch o.Kind {
	case domain.FileKindCSV, domain.FileKindText:
		return o.Delimiter != "" && o.HasHeader != nil
	default:
		return true
	}
}

func (e *Executor) processChunk(ctx context.Context, st *runState, chunk []domain.Row, ordered []domain.EntityMapping) error {
	for _, row := range chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.processRow(ctx, st, row, ordered); err != nil {
			return err
		}
	}
	st.run = st.run.UpdateProgress()
	if st.cfg.progress != nil {
		st.cfg.progress(st.run)
	}
	e.record(ctx, st)
	return nil
}

func (e *Executor) processRow(ctx context.Context, st *runState, row domain.Row, ordered []domain.EntityMapping) error {
	opts := st.flow.Options
	if opts.SkipEmptyRows && row.IsEmpty() {
		st.run = st.run.AddSkipped(1, SkipEmptyRow)
		return nil
	}

	persisted, failed := false, false
	for _, m := range ordered {
		res := e.rows.ValidateRow(row, m)
		for _, w := range res.Warnings {
			st.addWarning(row.Line, w, map[string]any{"model": m.Model})
		}
		if !res.Passes {
			failed = true
			st.addError(row.Line, fmt.Sprintf("Row %d: validation failed for %s", row.Line, m.Model), map[string]any{
				"model":  m.Model,
				"errors": res.Errors,
			})
			if opts.ErrorPolicy == domain.ErrorPolicyStop {
				st.run = st.run.AddSkipped(1, SkipValidation)
				return fmt.Errorf("%w: row %d", errStopPolicy, row.Line)
			}
			continue
		}

		ok, msgs, err := e.persist(ctx, st, row, m, res.Values)
		if err != nil {
			return fmt.Errorf("row %d, %s: %w", row.Line, m.Model, err)
		}
		if len(msgs) > 0 {
			failed = true
			st.addError(row.Line, fmt.Sprintf("Row %d: validation failed for %s", row.Line, m.Model), map[string]any{
				"model":  m.Model,
				"errors": msgs,
			})
			if opts.ErrorPolicy == domain.ErrorPolicyStop {
				st.run = st.run.AddSkipped(1, SkipValidation)
				return fmt.Errorf("%w: row %d", errStopPolicy, row.Line)
			}
			continue
		}
		persisted = persisted || ok
	}

	switch {
	case failed:
		st.run = st.run.AddSkipped(1, SkipValidation)
	case persisted:
		st.run = st.run.AddImported(1)
	default:
		st.run = st.run.AddSkipped(1, SkipDuplicate)
	}
	return nil
}

// persist writes one validated entity mapping. msgs reports row-level failures such as
// over-long fields; err is a store failure.
func (e *Executor) persist(ctx context.Context, st *runState, row domain.Row, m domain.EntityMapping, values map[string]any) (bool, map[string][]string, error) {
	schema, err := e.store.Schema(m.Model)
	if err != nil {
		return false, nil, err
	}
	attrs, payloads, unknown := relations.Split(schema, m, values)
	for _, target := range unknown {
		st.addWarning(row.Line, fmt.Sprintf("%s: target is neither a field nor a relation of %s", target, m.Model), nil)
	}
	if msgs := e.fitLengths(st, row, schema, attrs); len(msgs) > 0 {
		return false, msgs, nil
	}

	if m.Kind() == domain.MappingTypePivotSync {
		return e.pivotSync(ctx, st, row, schema, m, attrs, payloads)
	}

	id, written, err := e.upsert(ctx, schema, m.Options, attrs)
	if err != nil || !written {
		return false, nil, err
	}
	for _, p := range payloads {
		if !p.HasValue() {
			continue
		}
		if _, err := e.syncer.Sync(ctx, relations.Request{
			Owner:   schema,
			OwnerID: id,
			Payload: p,
			Mode:    m.Options.SyncModeFor(p.Relation.Name),
		}); err != nil {
			return false, nil, err
		}
	}
	return true, nil, nil
}

// fitLengths cuts or rejects strings longer than the field's max length.
func (e *Executor) fitLengths(st *runState, row domain.Row, schema *domain.EntitySchema, attrs map[string]any) map[string][]string {
	var msgs map[string][]string
	for name, v := range attrs {
		f, ok := schema.Field(name)
		s, isString := v.(string)
		if !ok || !isString || f.MaxLength <= 0 {
			continue
		}
		runes := []rune(s)
		if len(runes) <= f.MaxLength {
			continue
		}
		if st.flow.Options.TruncateLongFields {
			attrs[name] = string(runes[:f.MaxLength])
			st.addWarning(row.Line, fmt.Sprintf("%s: truncated from %d to %d characters", name, len(runes), f.MaxLength), nil)
			continue
		}
		if msgs == nil {
			msgs = map[string][]string{}
		}
		msgs[name] = append(msgs[name], fmt.Sprintf("The %s field must not be greater than %d characters.", name, f.MaxLength))
	}
	return msgs
}

// upsert applies the unique key and duplicate strategy. written is false when an existing
// record was left alone.
func (e *Executor) upsert(ctx context.Context, schema *domain.EntitySchema, opts domain.MappingOptions, attrs map[string]any) (int64, bool, error) {
	existing, err := e.findExisting(ctx, schema, opts.UniqueKey, attrs)
	if err != nil {
		return 0, false, err
	}
	if existing == nil || opts.Duplicates() == domain.DuplicateCreate {
		id, err := e.store.Create(ctx, schema.Name, attrs)
		return id, err == nil, err
	}
	if opts.Duplicates() == domain.DuplicateSkip {
		return existing.ID(), false, nil
	}
	if err := e.store.Update(ctx, schema.Name, existing.ID(), attrs); err != nil {
		return 0, false, err
	}
	return existing.ID(), true, nil
}

// findExisting matches every unique key field. A key with a blank value matches nothing.
func (e *Executor) findExisting(ctx context.Context, schema *domain.EntitySchema, keys []string, attrs map[string]any) (store.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	for _, k := range keys {
		if domain.IsBlank(attrs[k]) {
			return nil, nil
		}
	}
	recs, err := e.store.FindAllBy(ctx, schema.Name, keys[0], []any{attrs[keys[0]]})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		match := true
		for _, k := range keys[1:] {
			if fmt.Sprint(rec[k]) != fmt.Sprint(attrs[k]) {
				match = false
				break
			}
		}
		if match {
			return rec, nil
		}
	}
	return nil, nil
}

func (e *Executor) pivotSync(ctx context.Context, st *runState, row domain.Row, schema *domain.EntitySchema, m domain.EntityMapping, attrs map[string]any, payloads []*relations.Payload) (bool, map[string][]string, error) {
	owner, err := e.findExisting(ctx, schema, m.Options.UniqueKey, attrs)
	if err != nil {
		return false, nil, err
	}
	if owner == nil {
		st.addWarning(row.Line, fmt.Sprintf("pivot_sync: no %s matches the unique key", m.Model), map[string]any{"unique_key": m.Options.UniqueKey})
		return false, nil, nil
	}

	var payload *relations.Payload
	for _, p := range payloads {
		if p.Relation.Name == m.RelationPath {
			payload = p
		}
	}
	if payload == nil {
		rel, _ := schema.Relation(m.RelationPath)
		payload = &relations.Payload{Relation: rel}
	}
	res, err := e.syncer.Sync(ctx, relations.Request{
		Owner:   schema,
		OwnerID: owner.ID(),
		Payload: payload,
		Mode:    m.Options.SyncModeFor(m.RelationPath),
	})
	if err != nil {
		return false, nil, err
	}
	return res.Sync != nil, nil, nil
}
