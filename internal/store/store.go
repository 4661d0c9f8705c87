package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/mmrzaf/etlflow/internal/domain"
)

var ErrNotFound = errors.New("record not found")

// Record is one persisted entity row, including its "id".
type Record map[string]any

func (r Record) ID() int64 {
	id, _ := AsID(r["id"])
	return id
}

// Link is one many-to-many association with optional pivot attributes.
type Link struct {
	ID         int64          `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type SyncResult struct {
	Attached []int64 `json:"attached"`
	Detached []int64 `json:"detached"`
	Updated  []int64 `json:"updated"`
}

// EntityStore is the persistence boundary of the import pipeline. Entities are addressed
// by catalog name; ids are store-assigned integers.
type EntityStore interface {
	Schema(entity string) (*domain.EntitySchema, error)
	Create(ctx context.Context, entity string, attrs map[string]any) (int64, error)
	Update(ctx context.Context, entity string, id int64, attrs map[string]any) error
	Get(ctx context.Context, entity string, id int64) (Record, error)
	FindBy(ctx context.Context, entity, field string, value any) (Record, error)
	// FindAllBy resolves many values with a single query.
	FindAllBy(ctx context.Context, entity, field string, values []any) ([]Record, error)
	SyncLinks(ctx context.Context, entity string, id int64, relation string, links []Link, mode domain.SyncMode) (SyncResult, error)
	Links(ctx context.Context, entity string, id int64, relation string) ([]Link, error)
	Close() error
}

// AsID converts the numeric shapes ids arrive in (JSON numbers, strings from CSV) to int64.
func AsID(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t == float64(int64(t)) {
			return int64(t), true
		}
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err == nil {
			return n, true
		}
	case []byte:
		n, err := strconv.ParseInt(string(t), 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// Plan is the set of changes needed to move the current links to the desired ones.
type Plan struct {
	Attach []Link
	Detach []int64
	Update []Link
}

func (p Plan) Result() SyncResult {
	res := SyncResult{Attached: []int64{}, Detached: []int64{}, Updated: []int64{}}
	for _, l := range p.Attach {
		res.Attached = append(res.Attached, l.ID)
	}
	res.Detached = append(res.Detached, p.Detach...)
	for _, l := range p.Update {
		res.Updated = append(res.Updated, l.ID)
	}
	return res
}

// Reconcile plans a link sync. replace makes the current set equal to desired, add only
// attaches or updates, and remove detaches the desired ids, or every link when desired
// is empty. Duplicate desired ids keep their first occurrence.
func Reconcile(current, desired []Link, mode domain.SyncMode) (Plan, error) {
	cur := make(map[int64]Link, len(current))
	for _, l := range current {
		cur[l.ID] = l
	}
	want := make(map[int64]Link, len(desired))
	order := make([]int64, 0, len(desired))
	for _, l := range desired {
		if _, dup := want[l.ID]; dup {
			continue
		}
		want[l.ID] = l
		order = append(order, l.ID)
	}

	var plan Plan
	switch mode {
	case domain.SyncReplace, "":
		plan = attachAndUpdate(cur, want, order)
		for _, l := range current {
			if _, keep := want[l.ID]; !keep {
				plan.Detach = append(plan.Detach, l.ID)
			}
		}
	case domain.SyncAdd:
		plan = attachAndUpdate(cur, want, order)
	case domain.SyncRemove:
		if len(want) == 0 {
			for _, l := range current {
				plan.Detach = append(plan.Detach, l.ID)
			}
			break
		}
		for _, id := range order {
			if _, ok := cur[id]; ok {
				plan.Detach = append(plan.Detach, id)
			}
		}
	default:
		return Plan{}, fmt.Errorf("unsupported sync mode: %s", mode)
	}
	sort.Slice(plan.Detach, func(i, j int) bool { return plan.Detach[i] < plan.Detach[j] })
	return plan, nil
}

func attachAndUpdate(cur, want map[int64]Link, order []int64) Plan {
	var plan Plan
	for _, id := range order {
		l := want[id]
		existing, ok := cur[id]
		if !ok {
			plan.Attach = append(plan.Attach, l)
			continue
		}
		if len(l.Attributes) > 0 && !sameAttributes(existing.Attributes, l.Attributes) {
			plan.Update = append(plan.Update, l)
		}
	}
	return plan
}

func sameAttributes(a, b map[string]any) bool {
	for k, v := range b {
		if fmt.Sprint(a[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Column is one physical column of an entity table.
type Column struct {
	Name string
	Type domain.FieldType
}

// Columns lists the writable columns of an entity: its fields plus the foreign keys that
// relations place on its table, from either side of the relation.
func Columns(cat *domain.Catalog, entity *domain.EntitySchema) []Column {
	cols := make([]Column, 0, len(entity.Fields)+len(entity.Relations))
	seen := make(map[string]bool)
	add := func(name string, t domain.FieldType) {
		if name == "" || name == "id" || seen[name] {
			return
		}
		seen[name] = true
		cols = append(cols, Column{Name: name, Type: t})
	}
	for _, f := range entity.Fields {
		add(f.Name, f.Type)
	}
	for _, rel := range entity.Relations {
		if rel.Kind == domain.RelationBelongsTo {
			add(rel.ForeignKeyFor(entity.Name), domain.FieldTypeInt)
		}
	}
	if cat != nil {
		for _, other := range cat.Entities {
			for _, rel := range other.Relations {
				if rel.Related != entity.Name {
					continue
				}
				if rel.Kind == domain.RelationHasOne || rel.Kind == domain.RelationHasMany {
					add(rel.ForeignKeyFor(other.Name), domain.FieldTypeInt)
				}
			}
		}
	}
	return cols
}

// Filter keeps attrs that name a writable column and reports the first unknown key.
func Filter(cols []Column, attrs map[string]any) (map[string]any, error) {
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.Name] = true
	}
	out := make(map[string]any, len(attrs))
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "id" {
			continue
		}
		if !known[k] {
			return nil, fmt.Errorf("unknown field: %s", k)
		}
		out[k] = attrs[k]
	}
	return out, nil
}
