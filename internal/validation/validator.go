package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/transforms"
)

// Validator checks flows, mappings and catalogs before anything runs. The catalog is
// optional; without it only structural checks apply.
type Validator struct {
	engine  *transforms.Engine
	catalog *domain.Catalog
}

func NewValidator(engine *transforms.Engine, catalog *domain.Catalog) *Validator {
	if engine == nil {
		engine = transforms.NewEngine(nil)
	}
	return &Validator{engine: engine, catalog: catalog}
}

// identifier validation: allow simple SQL identifiers only (prevents injection via table/column names).
var (
	identRe       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reservedWords = map[string]struct{}{
		"add": {}, "all": {}, "alter": {}, "and": {}, "any": {}, "as": {},
		"asc": {}, "between": {}, "by": {}, "case": {}, "check": {},
		"column": {}, "constraint": {}, "create": {}, "cross": {}, "current_date": {},
		"current_time": {}, "current_timestamp": {}, "database": {}, "default": {}, "delete": {},
		"desc": {}, "distinct": {}, "do": {}, "drop": {}, "else": {},
		"end": {}, "except": {}, "exists": {}, "false": {}, "for": {},
		"foreign": {}, "from": {}, "full": {}, "grant": {}, "group": {},
		"having": {}, "in": {}, "index": {}, "inner": {}, "insert": {},
		"intersect": {}, "into": {}, "is": {}, "join": {}, "key": {},
		"left": {}, "like": {}, "limit": {}, "natural": {}, "not": {},
		"null": {}, "offset": {}, "on": {}, "or": {}, "order": {},
		"outer": {}, "primary": {}, "references": {}, "returning": {}, "revoke": {},
		"right": {}, "schema": {}, "select": {}, "set": {}, "table": {},
		"then": {}, "to": {}, "true": {}, "truncate": {}, "union": {},
		"unique": {}, "update": {}, "user": {}, "using": {}, "values": {},
		"view": {}, "when": {}, "where": {}, "with": {},
	}
)

func IsValidIdentifier(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if !identRe.MatchString(s) {
		return false
	}
	if _, ok := reservedWords[strings.ToLower(s)]; ok {
		return false
	}
	return true
}

// ValidateFlow reports every configuration problem of the flow and its resolved mapping.
func (v *Validator) ValidateFlow(flow *domain.Flow) error {
	var result *multierror.Error
	if err := flow.Err(); err != nil {
		result = multierror.Append(result, err)
	}
	if flow.FormatConfig != nil && flow.FormatConfig.Kind != "" && !IsValidFileKind(flow.FormatConfig.Kind) {
		result = multierror.Append(result, fmt.Errorf("invalid format type: %s", flow.FormatConfig.Kind))
	}
	if flow.SourceConfig.Type != "" && !IsValidFileKind(flow.SourceConfig.Type) {
		result = multierror.Append(result, fmt.Errorf("invalid source type: %s", flow.SourceConfig.Type))
	}
	if def := flow.Mapping.Definition; def != nil && len(def.Mappings) > 0 {
		if err := v.ValidateMapping(def); err != nil {
			result = multierror.Append(result, fmt.Errorf("mapping '%s': %w", def.Name, err))
		}
	}
	return result.ErrorOrNil()
}

func (v *Validator) ValidateMapping(def *domain.MappingDefinition) error {
	var result *multierror.Error
	if strings.TrimSpace(def.Name) == "" {
		result = multierror.Append(result, errors.New("mapping name is required"))
	}
	if len(def.Mappings) == 0 {
		result = multierror.Append(result, errors.New("mapping must have at least one entity mapping"))
	}
	for i := range def.Mappings {
		m := &def.Mappings[i]
		if err := v.validateEntityMapping(m); err != nil {
			result = multierror.Append(result, fmt.Errorf("entity '%s': %w", m.Model, err))
		}
	}
	if err := v.validateExecutionOrder(def); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (v *Validator) validateEntityMapping(m *domain.EntityMapping) error {
	if m.Model == "" {
		return errors.New("model is required")
	}
	if !IsValidIdentifier(m.Model) {
		return fmt.Errorf("invalid model identifier: %s", m.Model)
	}

	var schema *domain.EntitySchema
	if v.catalog != nil {
		s, err := v.catalog.Entity(m.Model)
		if err != nil {
			return err
		}
		schema = s
	}

	switch m.Kind() {
	case domain.MappingTypeEntity:
		if len(m.Columns) == 0 {
			return errors.New("entity mapping must have at least one column")
		}
	case domain.MappingTypePivotSync:
		if m.RelationPath == "" {
			return errors.New("pivot_sync mapping requires relation_path")
		}
		if len(m.Options.UniqueKey) == 0 {
			return errors.New("pivot_sync mapping requires options.unique_key to locate the owner")
		}
		if schema != nil {
			rel, ok := schema.Relation(m.RelationPath)
			if !ok {
				return fmt.Errorf("relation not found: %s", m.RelationPath)
			}
			if rel.Kind != domain.RelationManyToMany {
				return fmt.Errorf("relation %s is %s, pivot_sync requires many_to_many", rel.Name, rel.Kind)
			}
		}
	default:
		return fmt.Errorf("invalid mapping type: %s", m.Type)
	}

	if err := validateOptions(m.Options, schema); err != nil {
		return err
	}

	targets := make(map[string]bool)
	for _, col := range m.Columns {
		if err := v.validateColumn(col, schema, targets); err != nil {
			return fmt.Errorf("column '%s': %w", col.Source, err)
		}
	}
	return nil
}

func validateOptions(o domain.MappingOptions, schema *domain.EntitySchema) error {
	for _, key := range o.UniqueKey {
		if !IsValidIdentifier(key) {
			return fmt.Errorf("invalid unique_key identifier: %s", key)
		}
		if schema != nil {
			if _, ok := schema.Field(key); !ok {
				return fmt.Errorf("unique_key field not found: %s", key)
			}
		}
	}
	switch o.DuplicateStrategy {
	case "", domain.DuplicateUpdate, domain.DuplicateSkip, domain.DuplicateCreate:
	default:
		return fmt.Errorf("invalid duplicate_strategy: %s", o.DuplicateStrategy)
	}
	if !IsValidSyncMode(o.SyncMode) {
		return fmt.Errorf("invalid sync_mode: %s", o.SyncMode)
	}
	for rel, mode := range o.RelationStrategies {
		if !IsValidSyncMode(mode) {
			return fmt.Errorf("invalid sync_mode for relation %s: %s", rel, mode)
		}
	}
	return nil
}

func (v *Validator) validateColumn(col domain.ColumnMapping, schema *domain.EntitySchema, targets map[string]bool) error {
	if col.Source == "" {
		return errors.New("source is required")
	}
	if col.Target == "" {
		return errors.New("target is required")
	}
	if targets[col.Target] {
		return fmt.Errorf("duplicate target: %s", col.Target)
	}
	targets[col.Target] = true

	path := col.TargetPath()
	for i, seg := range path {
		if seg == "*" && i > 0 && i < len(path)-1 {
			continue
		}
		if !IsValidIdentifier(seg) {
			return fmt.Errorf("invalid target identifier: %s", col.Target)
		}
	}

	if err := v.engine.Check(col.Transforms); err != nil {
		return err
	}
	if _, err := TranslateRule(col.ValidationRule); err != nil {
		return err
	}
	if col.RelationLookup != nil {
		if col.RelationLookup.Field == "" {
			return errors.New("relation_lookup.field is required")
		}
		if !IsValidIdentifier(col.RelationLookup.Field) {
			return fmt.Errorf("invalid relation_lookup field: %s", col.RelationLookup.Field)
		}
	}

	if schema != nil {
		return v.validateTargetAgainstSchema(col, path, schema)
	}
	return nil
}

func (v *Validator) validateTargetAgainstSchema(col domain.ColumnMapping, path []string, schema *domain.EntitySchema) error {
	if len(path) == 1 && col.RelationLookup == nil {
		if _, ok := schema.Field(path[0]); ok {
			return nil
		}
		if _, ok := schema.Relation(path[0]); ok {
			return nil
		}
		return fmt.Errorf("field not found on %s: %s", schema.Name, path[0])
	}
	rel, ok := schema.Relation(path[0])
	if !ok {
		return fmt.Errorf("relation not found on %s: %s", schema.Name, path[0])
	}
	related, err := v.catalog.Entity(rel.Related)
	if err != nil {
		return err
	}
	if col.RelationLookup != nil {
		if _, ok := related.Field(col.RelationLookup.Field); !ok {
			return fmt.Errorf("lookup field not found on %s: %s", related.Name, col.RelationLookup.Field)
		}
	}
	field := path[len(path)-1]
	if len(path) == 1 || field == "id" {
		return nil
	}
	for _, seg := range path {
		if isPivotKey(seg) {
			return nil
		}
	}
	if _, ok := related.Field(field); !ok {
		return fmt.Errorf("field not found on %s: %s", related.Name, field)
	}
	return nil
}

func isPivotKey(s string) bool { return s == "pivot" || s == "_pivot" }

// validateExecutionOrder rejects mappings where an entity runs before an entity it
// belongs to, when both are mapped.
func (v *Validator) validateExecutionOrder(def *domain.MappingDefinition) error {
	if v.catalog == nil {
		return nil
	}
	order := make(map[string]int, len(def.Mappings))
	for _, m := range def.Mappings {
		if m.Kind() == domain.MappingTypeEntity {
			order[m.Model] = m.ExecutionOrder
		}
	}
	for _, m := range def.Mappings {
		schema, err := v.catalog.Entity(m.Model)
		if err != nil {
			continue
		}
		for _, rel := range schema.Relations {
			if rel.Kind != domain.RelationBelongsTo || rel.Related == m.Model {
				continue
			}
			parent, ok := order[rel.Related]
			if ok && m.Kind() == domain.MappingTypeEntity && parent > m.ExecutionOrder {
				return fmt.Errorf("entity '%s' (order %d) depends on '%s' (order %d)", m.Model, m.ExecutionOrder, rel.Related, parent)
			}
		}
	}
	return nil
}

// ValidateCatalog checks entity metadata: identifiers, field types, relation targets and
// the absence of cross-entity belongs_to cycles.
func ValidateCatalog(cat *domain.Catalog) error {
	if len(cat.Entities) == 0 {
		return errors.New("catalog must have at least one entity")
	}
	var result *multierror.Error
	names := make(map[string]bool)
	for i := range cat.Entities {
		e := &cat.Entities[i]
		if err := validateEntity(cat, e, names); err != nil {
			result = multierror.Append(result, fmt.Errorf("entity '%s': %w", e.Name, err))
		}
	}
	if result.ErrorOrNil() != nil {
		return result
	}
	if _, err := DependencyOrder(cat); err != nil {
		return fmt.Errorf("dependency validation failed: %w", err)
	}
	return nil
}

func validateEntity(cat *domain.Catalog, e *domain.EntitySchema, names map[string]bool) error {
	if e.Name == "" {
		return errors.New("entity name is required")
	}
	if !IsValidIdentifier(e.Name) {
		return fmt.Errorf("invalid entity identifier: %s", e.Name)
	}
	if names[e.Name] {
		return fmt.Errorf("duplicate entity name: %s", e.Name)
	}
	names[e.Name] = true
	if !IsValidIdentifier(e.TableName()) {
		return fmt.Errorf("invalid table identifier: %s", e.TableName())
	}
	if len(e.Fields) == 0 {
		return errors.New("entity must have at least one field")
	}

	fields := make(map[string]bool)
	for _, f := range e.Fields {
		if !IsValidIdentifier(f.Name) {
			return fmt.Errorf("invalid field identifier: %s", f.Name)
		}
		if f.Name == "id" {
			return errors.New("field id is managed by the store")
		}
		if fields[f.Name] {
			return fmt.Errorf("duplicate field name: %s", f.Name)
		}
		fields[f.Name] = true
		if !f.Type.Valid() {
			return fmt.Errorf("field '%s': invalid type: %s", f.Name, f.Type)
		}
		if f.MaxLength < 0 {
			return fmt.Errorf("field '%s': max_length must be >= 0", f.Name)
		}
	}
	for _, k := range e.UniqueKeys {
		if !fields[k] {
			return fmt.Errorf("unique key field not found: %s", k)
		}
	}

	for _, rel := range e.Relations {
		if !IsValidIdentifier(rel.Name) {
			return fmt.Errorf("invalid relation identifier: %s", rel.Name)
		}
		if !rel.Kind.Valid() {
			return fmt.Errorf("relation '%s': invalid kind: %s", rel.Name, rel.Kind)
		}
		if _, err := cat.Entity(rel.Related); err != nil {
			return fmt.Errorf("relation '%s': %w", rel.Name, err)
		}
		if !IsValidIdentifier(rel.ForeignKeyFor(e.Name)) {
			return fmt.Errorf("relation '%s': invalid foreign key: %s", rel.Name, rel.ForeignKeyFor(e.Name))
		}
		if rel.Kind == domain.RelationManyToMany {
			table, local, related := rel.Pivot(e.Name)
			for _, id := range append([]string{table, local, related}, rel.PivotFields...) {
				if !IsValidIdentifier(id) {
					return fmt.Errorf("relation '%s': invalid pivot identifier: %s", rel.Name, id)
				}
			}
		}
	}
	return nil
}

// DependencyOrder sorts entities so that every belongs_to target comes before the
// entities pointing at it. Self references are ignored.
func DependencyOrder(cat *domain.Catalog) ([]string, error) {
	graph := make(map[string][]string) // dependency -> dependents
	inDegree := make(map[string]int)

	for _, e := range cat.Entities {
		if _, ok := inDegree[e.Name]; !ok {
			inDegree[e.Name] = 0
		}
		if _, ok := graph[e.Name]; !ok {
			graph[e.Name] = []string{}
		}
	}
	addEdge := func(from, to string) {
		if from == to {
			return
		}
		graph[from] = append(graph[from], to)
		inDegree[to]++
	}
	for _, e := range cat.Entities {
		for _, rel := range e.Relations {
			switch rel.Kind {
			case domain.RelationBelongsTo:
				addEdge(rel.Related, e.Name)
			case domain.RelationHasOne, domain.RelationHasMany:
				addEdge(e.Name, rel.Related)
			case domain.RelationManyToMany:
			}
		}
	}

	queue := make([]string, 0)
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(inDegree))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range graph[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
		sort.Strings(queue)
	}

	if len(result) != len(inDegree) {
		return nil, errors.New("cyclic dependencies detected")
	}
	return result, nil
}

// ValidateRunRequest checks an API run request; exactly one of flow_id and flow is allowed.
func (v *Validator) ValidateRunRequest(req *domain.RunRequest) error {
	hasFlowID := req.FlowID != ""
	hasFlow := req.Flow != nil

	if !hasFlowID && !hasFlow {
		return errors.New("either flow_id or flow must be provided")
	}
	if hasFlowID && hasFlow {
		return errors.New("only one of flow_id or flow must be provided")
	}
	if req.ChunkSize != nil && (*req.ChunkSize < 1 || *req.ChunkSize > domain.MaxChunkSize) {
		return fmt.Errorf("chunk_size must be between 1 and %d, got %d", domain.MaxChunkSize, *req.ChunkSize)
	}
	switch req.ErrorPolicy {
	case "", domain.ErrorPolicyStop, domain.ErrorPolicyContinue:
	default:
		return fmt.Errorf("invalid error_policy: %s", req.ErrorPolicy)
	}
	return nil
}

func IsValidSyncMode(mode domain.SyncMode) bool {
	switch mode {
	case "", domain.SyncReplace, domain.SyncAdd, domain.SyncRemove:
		return true
	default:
		return false
	}
}

func IsValidFileKind(kind domain.FileKind) bool {
	switch kind {
	case domain.FileKindCSV, domain.FileKindText, domain.FileKindSpreadsheet, domain.FileKindJSON, domain.FileKindXML:
		return true
	default:
		return false
	}
}
