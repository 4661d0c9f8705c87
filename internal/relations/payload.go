package relations

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mmrzaf/etlflow/internal/domain"
)

// Payload gathers everything a row maps onto one relation of the owner.
type Payload struct {
	Relation domain.RelationMeta
	// Value is what a bare relation target received: an id, a lookup value, an object or a list.
	Value  any
	Lookup *domain.RelationLookup
	// Fields come from "rel.field" targets and describe a single related item.
	Fields map[string]any
	// Items come from "rel.*.field" targets, one map per list position.
	Items map[int]map[string]any
	// Pivot applies to every link of a many-to-many relation.
	Pivot map[string]any
}

// HasValue reports whether any target wrote into the payload.
func (p *Payload) HasValue() bool {
	return p.Value != nil || len(p.Fields) > 0 || len(p.Items) > 0
}

func (p *Payload) sortedItems() []map[string]any {
	idx := make([]int, 0, len(p.Items))
	for i := range p.Items {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]map[string]any, 0, len(idx))
	for _, i := range idx {
		out = append(out, p.Items[i])
	}
	return out
}

// Split separates the validated values of one entity mapping into owner attributes and
// relation payloads. Targets naming neither a field nor a relation are returned as unknown.
func Split(schema *domain.EntitySchema, m domain.EntityMapping, values map[string]any) (attrs map[string]any, payloads []*Payload, unknown []string) {
	attrs = make(map[string]any)
	byName := make(map[string]*Payload)
	lookups := make(map[string]*domain.RelationLookup)
	for _, col := range m.Columns {
		if col.RelationLookup != nil {
			lookups[col.Target] = col.RelationLookup
		}
	}

	targets := make([]string, 0, len(values))
	for t := range values {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, target := range targets {
		value := values[target]
		path := strings.Split(target, ".")
		rel, isRel := schema.Relation(path[0])
		if !isRel {
			if len(path) == 1 {
				attrs[target] = value
			} else {
				unknown = append(unknown, target)
			}
			continue
		}

		p := byName[rel.Name]
		if p == nil {
			p = &Payload{Relation: rel, Fields: map[string]any{}, Items: map[int]map[string]any{}, Pivot: map[string]any{}}
			byName[rel.Name] = p
			payloads = append(payloads, p)
		}
		rest := path[1:]
		switch {
		case len(rest) == 0:
			p.Value = value
		case isPivotKey(rest[0]) && len(rest) == 2:
			p.Pivot[rest[1]] = value
		case rest[0] == "*" && len(rest) >= 2:
			list, _ := value.([]any)
			for i, el := range list {
				item := p.Items[i]
				if item == nil {
					item = map[string]any{}
					p.Items[i] = item
				}
				setPath(item, rest[1:], el)
			}
		case isIndex(rest[0]) && len(rest) >= 2:
			i, _ := strconv.Atoi(rest[0])
			item := p.Items[i]
			if item == nil {
				item = map[string]any{}
				p.Items[i] = item
			}
			setPath(item, rest[1:], value)
		default:
			setPath(p.Fields, rest, value)
		}
		// A lookup on "author.name" resolves the item by that field like one on "author" does.
		if lk := lookups[target]; lk != nil && p.Lookup == nil {
			p.Lookup = lk
		}
	}
	return attrs, payloads, unknown
}

func isPivotKey(s string) bool { return s == "pivot" || s == "_pivot" }

func isIndex(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// setPath writes value at a nested key path, pivot segments becoming a "pivot" map.
func setPath(m map[string]any, path []string, value any) {
	if len(path) >= 2 && isPivotKey(path[0]) {
		pv, _ := m["pivot"].(map[string]any)
		if pv == nil {
			pv = map[string]any{}
			m["pivot"] = pv
		}
		pv[path[1]] = value
		return
	}
	m[strings.Join(path, ".")] = value
}
