package domain

import (
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

type Flow struct {
	ID              string           `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	SourceConfig    SourceConfig     `json:"source_config" yaml:"source_config"`
	SanitizerConfig *SanitizerConfig `json:"sanitizer_config" yaml:"sanitizer_config"`
	FormatConfig    *FormatConfig    `json:"format_config,omitempty" yaml:"format_config,omitempty"`
	Mapping         MappingReference `json:"mapping" yaml:"mapping"`
	Options         FlowOptions      `json:"options" yaml:"options"`
}

type SourceConfig struct {
	Path string   `json:"path" yaml:"path"`
	Type FileKind `json:"type,omitempty" yaml:"type,omitempty"`
}

type SanitizerConfig struct {
	Enabled               bool        `json:"enabled" yaml:"enabled"`
	RemoveBOM             bool        `json:"remove_bom" yaml:"remove_bom"`
	NormalizeNewlines     bool        `json:"normalize_newlines" yaml:"normalize_newlines"`
	Newline               NewlineKind `json:"newline,omitempty" yaml:"newline,omitempty"`
	StripControlChars     bool        `json:"strip_control_chars" yaml:"strip_control_chars"`
	EnsureTrailingNewline bool        `json:"ensure_trailing_newline" yaml:"ensure_trailing_newline"`
}

// DefaultSanitizerConfig turns every cleanup on with LF newlines.
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		Enabled:               true,
		RemoveBOM:             true,
		NormalizeNewlines:     true,
		Newline:               NewlineLF,
		StripControlChars:     true,
		EnsureTrailingNewline: true,
	}
}

type NewlineKind string

const (
	NewlineLF   NewlineKind = "lf"
	NewlineCRLF NewlineKind = "crlf"
	NewlineCR   NewlineKind = "cr"
)

func (n NewlineKind) Sequence() string {
	switch n {
	case NewlineCRLF:
		return "\r\n"
	case NewlineCR:
		return "\r"
	default:
		return "\n"
	}
}

// FormatConfig overrides detection field by field. Zero fields keep the detected value.
type FormatConfig struct {
	Kind          FileKind `json:"type,omitempty" yaml:"type,omitempty"`
	Delimiter     string   `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Quote         string   `json:"quote,omitempty" yaml:"quote,omitempty"`
	HasHeader     *bool    `json:"has_header,omitempty" yaml:"has_header,omitempty"`
	Encoding      string   `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Sheet         string   `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	RecordElement string   `json:"record_element,omitempty" yaml:"record_element,omitempty"`
}

type ErrorPolicy string

const (
	ErrorPolicyStop     ErrorPolicy = "stop"
	ErrorPolicyContinue ErrorPolicy = "continue"
)

const (
	DefaultChunkSize = 100
	MaxChunkSize     = 100000
)

type FlowOptions struct {
	ChunkSize          int         `json:"chunk_size" yaml:"chunk_size"`
	ErrorPolicy        ErrorPolicy `json:"error_policy" yaml:"error_policy"`
	SkipEmptyRows      bool        `json:"skip_empty_rows" yaml:"skip_empty_rows"`
	TruncateLongFields bool        `json:"truncate_long_fields" yaml:"truncate_long_fields"`
}

func DefaultFlowOptions() FlowOptions {
	return FlowOptions{
		ChunkSize:     DefaultChunkSize,
		ErrorPolicy:   ErrorPolicyContinue,
		SkipEmptyRows: true,
	}
}

// Validate lists every configuration problem of the flow. An empty result means the flow can run.
func (f *Flow) Validate() []string {
	var problems []string
	if strings.TrimSpace(f.Name) == "" {
		problems = append(problems, "flow name is required")
	}
	if strings.TrimSpace(f.SourceConfig.Path) == "" {
		problems = append(problems, "source config is required: path must be set")
	}
	if f.SanitizerConfig == nil {
		problems = append(problems, "sanitizer config is required")
	}
	if f.Options.ChunkSize < 1 || f.Options.ChunkSize > MaxChunkSize {
		problems = append(problems, "chunk_size must be between 1 and 100000")
	}
	switch f.Options.ErrorPolicy {
	case ErrorPolicyStop, ErrorPolicyContinue:
	default:
		problems = append(problems, "error_policy must be one of: stop, continue")
	}
	if f.Mapping.Definition == nil {
		if f.Mapping.Path == "" {
			problems = append(problems, "mapping is required")
		} else {
			problems = append(problems, "mapping reference is not resolved: "+f.Mapping.Path)
		}
	} else if len(f.Mapping.Definition.Mappings) == 0 {
		problems = append(problems, "mapping must have at least one entity mapping")
	}
	return problems
}

// Err folds Validate into a single error, nil when the flow is valid.
func (f *Flow) Err() error {
	var result *multierror.Error
	for _, p := range f.Validate() {
		result = multierror.Append(result, validationError(p))
	}
	return result.ErrorOrNil()
}

type validationError string

func (e validationError) Error() string { return string(e) }

type MappingType string

const (
	MappingTypeEntity    MappingType = "entity"
	MappingTypePivotSync MappingType = "pivot_sync"
)

type DuplicateStrategy string

const (
	DuplicateUpdate DuplicateStrategy = "update"
	DuplicateSkip   DuplicateStrategy = "skip"
	DuplicateCreate DuplicateStrategy = "create"
)

type SyncMode string

const (
	SyncReplace SyncMode = "replace"
	SyncAdd     SyncMode = "add"
	SyncRemove  SyncMode = "remove"
)

type MappingDefinition struct {
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	SourceSchema *SourceSchema   `json:"source_schema,omitempty" yaml:"source_schema,omitempty"`
	Mappings     []EntityMapping `json:"mappings" yaml:"mappings"`
}

// Ordered returns the entity mappings by ascending execution order, ties kept in declaration order.
func (m *MappingDefinition) Ordered() []EntityMapping {
	out := make([]EntityMapping, len(m.Mappings))
	copy(out, m.Mappings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExecutionOrder < out[j].ExecutionOrder
	})
	return out
}

type EntityMapping struct {
	Model          string          `json:"model" yaml:"model"`
	ExecutionOrder int             `json:"execution_order" yaml:"execution_order"`
	Type           MappingType     `json:"type,omitempty" yaml:"type,omitempty"`
	RelationPath   string          `json:"relation_path,omitempty" yaml:"relation_path,omitempty"`
	Columns        []ColumnMapping `json:"columns" yaml:"columns"`
	Options        MappingOptions  `json:"options,omitempty" yaml:"options,omitempty"`
}

func (m EntityMapping) Kind() MappingType {
	if m.Type == "" {
		return MappingTypeEntity
	}
	return m.Type
}

type MappingOptions struct {
	UniqueKey          []string            `json:"unique_key,omitempty" yaml:"unique_key,omitempty"`
	DuplicateStrategy  DuplicateStrategy   `json:"duplicate_strategy,omitempty" yaml:"duplicate_strategy,omitempty"`
	SyncMode           SyncMode            `json:"sync_mode,omitempty" yaml:"sync_mode,omitempty"`
	RelationStrategies map[string]SyncMode `json:"relation_strategies,omitempty" yaml:"relation_strategies,omitempty"`
}

// SyncModeFor resolves the pivot reconciliation mode for a relation.
func (o MappingOptions) SyncModeFor(relation string) SyncMode {
	if m, ok := o.RelationStrategies[relation]; ok && m != "" {
		return m
	}
	if o.SyncMode != "" {
		return o.SyncMode
	}
	return SyncReplace
}

func (o MappingOptions) Duplicates() DuplicateStrategy {
	if o.DuplicateStrategy == "" {
		return DuplicateUpdate
	}
	return o.DuplicateStrategy
}

type ColumnMapping struct {
	Source         string          `json:"source" yaml:"source"`
	Target         string          `json:"target" yaml:"target"`
	Transforms     []string        `json:"transforms,omitempty" yaml:"transforms,omitempty"`
	Default        any             `json:"default,omitempty" yaml:"default,omitempty"`
	ValidationRule string          `json:"validation_rule,omitempty" yaml:"validation_rule,omitempty"`
	RelationLookup *RelationLookup `json:"relation_lookup,omitempty" yaml:"relation_lookup,omitempty"`
}

// TargetPath splits the dotted target into segments.
func (c ColumnMapping) TargetPath() []string {
	return strings.Split(c.Target, ".")
}

type RelationLookup struct {
	Field           string `json:"field" yaml:"field"`
	CreateIfMissing bool   `json:"create_if_missing" yaml:"create_if_missing"`
	Delimiter       string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

type SourceSchema struct {
	Columns []SourceColumn `json:"columns" yaml:"columns"`
}

type SourceColumn struct {
	Name     string   `json:"name" yaml:"name"`
	Type     string   `json:"type" yaml:"type"`
	Nullable bool     `json:"nullable" yaml:"nullable"`
	Samples  []string `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// Row is one source record. Line is the 1-based position in the source, 0 when unknown.
type Row struct {
	Values map[string]any `json:"values"`
	Line   int            `json:"line,omitempty"`
}

func (r Row) Get(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

func (r Row) IsEmpty() bool {
	for _, v := range r.Values {
		if !IsBlank(v) {
			return false
		}
	}
	return true
}

// IsBlank treats nil, empty and whitespace-only strings as absent.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

type FileKind string

const (
	FileKindCSV         FileKind = "csv"
	FileKindText        FileKind = "text"
	FileKindSpreadsheet FileKind = "spreadsheet"
	FileKindJSON        FileKind = "json"
	FileKindXML         FileKind = "xml"
)

const (
	EncodingUTF8        = "UTF-8"
	EncodingASCII       = "ASCII"
	EncodingISO88591    = "ISO-8859-1"
	EncodingWindows1252 = "Windows-1252"
)

type DetectedFormat struct {
	Kind      FileKind `json:"type" yaml:"type"`
	Delimiter string   `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Quote     string   `json:"quote,omitempty" yaml:"quote,omitempty"`
	HasHeader bool     `json:"has_header" yaml:"has_header"`
	Encoding  string   `json:"encoding" yaml:"encoding"`
}

// Merge applies the non-zero fields of an override on top of the detected format.
func (d DetectedFormat) Merge(o *FormatConfig) DetectedFormat {
	if o == nil {
		return d
	}
	if o.Kind != "" {
		d.Kind = o.Kind
	}
	if o.Delimiter != "" {
		d.Delimiter = o.Delimiter
	}
	if o.Quote != "" {
		d.Quote = o.Quote
	}
	if o.HasHeader != nil {
		d.HasHeader = *o.HasHeader
	}
	if o.Encoding != "" {
		d.Encoding = o.Encoding
	}
	return d
}

type SanitizationReport struct {
	Stats     map[string]int      `json:"stats"`
	Decisions []string            `json:"decisions"`
	Examples  map[string][]string `json:"examples"`
}

func NewSanitizationReport() SanitizationReport {
	return SanitizationReport{
		Stats:     map[string]int{},
		Decisions: []string{},
		Examples:  map[string][]string{},
	}
}
