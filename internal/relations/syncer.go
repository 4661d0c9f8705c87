package relations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/logging"
	"github.com/mmrzaf/etlflow/internal/store"
)

type Request struct {
	Owner   *domain.EntitySchema
	OwnerID int64
	Payload *Payload
	// Mode reconciles many-to-many links; other kinds ignore it.
	Mode domain.SyncMode
}

// Result describes what one relation sync did. Skipped holds a note for every item
// that could not be resolved; such items never fail the row.
type Result struct {
	Relation string            `json:"relation"`
	Linked   []int64           `json:"linked"`
	Created  []int64           `json:"created,omitempty"`
	Skipped  []string          `json:"skipped,omitempty"`
	Sync     *store.SyncResult `json:"sync,omitempty"`
}

func (r *Result) skip(format string, args ...any) {
	r.Skipped = append(r.Skipped, fmt.Sprintf(format, args...))
}

// Syncer persists relation payloads through an EntityStore. Only store failures are
// returned as errors.
type Syncer struct {
	store store.EntityStore
	log   *logging.Logger
}

func NewSyncer(s store.EntityStore, log *logging.Logger) *Syncer {
	if log == nil {
		log = logging.Nop()
	}
	return &Syncer{store: s, log: log.WithComponent("relations")}
}

func (s *Syncer) Sync(ctx context.Context, req Request) (Result, error) {
	rel := req.Payload.Relation
	res := Result{Relation: rel.Name, Linked: []int64{}}
	related, err := s.store.Schema(rel.Related)
	if err != nil {
		return res, err
	}

	switch rel.Kind {
	case domain.RelationHasOne, domain.RelationBelongsTo:
		err = s.syncToOne(ctx, req, related, &res)
	case domain.RelationHasMany:
		err = s.syncHasMany(ctx, req, related, &res)
	case domain.RelationManyToMany:
		err = s.syncManyToMany(ctx, req, related, &res)
	default:
		return res, fmt.Errorf("unsupported relation kind: %s", rel.Kind)
	}
	for _, note := range res.Skipped {
		s.log.Debugw("relation.skipped", map[string]any{
			"owner":    req.Owner.Name,
			"owner_id": req.OwnerID,
			"relation": rel.Name,
			"reason":   note,
		})
	}
	return res, err
}

// items normalizes the payload into one entry per related item.
func items(p *Payload) []any {
	if len(p.Items) > 0 {
		out := make([]any, 0, len(p.Items))
		for _, it := range p.sortedItems() {
			out = append(out, it)
		}
		return out
	}
	if len(p.Fields) > 0 {
		merged := map[string]any{}
		if m, ok := p.Value.(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
		for k, v := range p.Fields {
			merged[k] = v
		}
		return []any{merged}
	}

	switch v := p.Value.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(v))
		for _, el := range v {
			if !domain.IsBlank(el) {
				out = append(out, el)
			}
		}
		return out
	case string:
		if p.Lookup != nil && p.Lookup.Delimiter != "" {
			return explode(v, p.Lookup.Delimiter)
		}
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []any{strings.TrimSpace(v)}
	default:
		return []any{v}
	}
}

func explode(s, delim string) []any {
	seen := make(map[string]bool)
	var out []any
	for _, part := range strings.Split(s, delim) {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

// attrsFor maps payload keys onto the related entity's columns by key variant.
func attrsFor(schema *domain.EntitySchema, m map[string]any) map[string]any {
	out := make(map[string]any)
	for _, col := range store.Columns(nil, schema) {
		if v, ok := Extract(m, col.Name); ok {
			out[col.Name] = v
		}
	}
	return out
}

func merge(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func notFound(err error) bool { return errors.Is(err, store.ErrNotFound) }

// resolve finds or creates the related record an item points at. link is written to the
// record on both paths. ok is false when the item was skipped.
func (s *Syncer) resolve(ctx context.Context, related *domain.EntitySchema, item any, lookup *domain.RelationLookup, link map[string]any, res *Result) (int64, bool, error) {
	if m, isMap := item.(map[string]any); isMap {
		return s.resolveObject(ctx, related, m, lookup, link, res)
	}
	if domain.IsBlank(item) {
		res.skip("empty payload")
		return 0, false, nil
	}

	if lookup != nil {
		return s.lookupOrCreate(ctx, related, lookup, item, nil, link, res)
	}
	id, ok := store.AsID(item)
	if !ok {
		res.skip("cannot resolve %v without a lookup", item)
		return 0, false, nil
	}
	if _, err := s.store.Get(ctx, related.Name, id); err != nil {
		if notFound(err) {
			res.skip("%s %d not found", related.Name, id)
			return 0, false, nil
		}
		return 0, false, err
	}
	if len(link) > 0 {
		if err := s.store.Update(ctx, related.Name, id, link); err != nil {
			return 0, false, err
		}
	}
	return id, true, nil
}

func (s *Syncer) resolveObject(ctx context.Context, related *domain.EntitySchema, m map[string]any, lookup *domain.RelationLookup, link map[string]any, res *Result) (int64, bool, error) {
	attrs := attrsFor(related, m)
	if id, ok := store.AsID(m["id"]); ok {
		if _, err := s.store.Get(ctx, related.Name, id); err != nil {
			if notFound(err) {
				res.skip("%s %d not found", related.Name, id)
				return 0, false, nil
			}
			return 0, false, err
		}
		if upd := merge(attrs, link); len(upd) > 0 {
			if err := s.store.Update(ctx, related.Name, id, upd); err != nil {
				return 0, false, err
			}
		}
		return id, true, nil
	}
	if IsEmptyPayload(m) {
		res.skip("empty payload")
		return 0, false, nil
	}

	if lookup != nil {
		v, ok := Extract(m, lookup.Field)
		if !ok || domain.IsBlank(v) {
			res.skip("payload has no %s", lookup.Field)
			return 0, false, nil
		}
		return s.lookupOrCreate(ctx, related, lookup, v, attrs, link, res)
	}

	for _, key := range related.UniqueKeys {
		v, ok := attrs[key]
		if !ok || domain.IsBlank(v) {
			continue
		}
		return s.lookupOrCreate(ctx, related, &domain.RelationLookup{Field: key, CreateIfMissing: true}, v, attrs, link, res)
	}

	id, err := s.store.Create(ctx, related.Name, merge(attrs, link))
	if err != nil {
		return 0, false, err
	}
	res.Created = append(res.Created, id)
	return id, true, nil
}

func (s *Syncer) lookupOrCreate(ctx context.Context, related *domain.EntitySchema, lookup *domain.RelationLookup, value any, attrs, link map[string]any, res *Result) (int64, bool, error) {
	rec, err := s.store.FindBy(ctx, related.Name, lookup.Field, value)
	switch {
	case err == nil:
		id := rec.ID()
		if upd := merge(attrs, link); len(upd) > 0 {
			if err := s.store.Update(ctx, related.Name, id, upd); err != nil {
				return 0, false, err
			}
		}
		return id, true, nil
	case !notFound(err):
		return 0, false, err
	case !lookup.CreateIfMissing:
		res.skip("%s with %s=%v not found", related.Name, lookup.Field, value)
		return 0, false, nil
	}

	create := merge(attrs, link)
	create[lookup.Field] = value
	id, err := s.store.Create(ctx, related.Name, create)
	if err != nil {
		return 0, false, err
	}
	res.Created = append(res.Created, id)
	return id, true, nil
}

func (s *Syncer) syncToOne(ctx context.Context, req Request, related *domain.EntitySchema, res *Result) error {
	p := req.Payload
	list := items(p)
	if len(list) == 0 {
		res.skip("empty payload")
		return nil
	}
	item := list[0]
	fk := p.Relation.ForeignKeyFor(req.Owner.Name)

	var link map[string]any
	if p.Relation.Kind == domain.RelationHasOne {
		link = map[string]any{fk: req.OwnerID}
	}

	m, isMap := item.(map[string]any)
	_, hasID := store.AsID(m["id"])
	if isMap && !hasID && p.Lookup == nil {
		return s.syncOwnedRecord(ctx, req, related, m, fk, res)
	}

	id, ok, err := s.resolve(ctx, related, item, p.Lookup, link, res)
	if err != nil || !ok {
		return err
	}
	if p.Relation.Kind == domain.RelationBelongsTo {
		if err := s.store.Update(ctx, req.Owner.Name, req.OwnerID, map[string]any{fk: id}); err != nil {
			return err
		}
	}
	res.Linked = append(res.Linked, id)
	return nil
}

// syncOwnedRecord keeps a single related record per owner: updated when the owner already
// points at one, created otherwise.
func (s *Syncer) syncOwnedRecord(ctx context.Context, req Request, related *domain.EntitySchema, m map[string]any, fk string, res *Result) error {
	if IsEmptyPayload(m) {
		res.skip("empty payload")
		return nil
	}
	attrs := attrsFor(related, m)

	var existing int64
	if p := req.Payload; p.Relation.Kind == domain.RelationHasOne {
		rec, err := s.store.FindBy(ctx, related.Name, fk, req.OwnerID)
		if err != nil && !notFound(err) {
			return err
		}
		if err == nil {
			existing = rec.ID()
		}
		attrs[fk] = req.OwnerID
	} else {
		owner, err := s.store.Get(ctx, req.Owner.Name, req.OwnerID)
		if err != nil {
			return err
		}
		if id, ok := store.AsID(owner[fk]); ok {
			if _, err := s.store.Get(ctx, related.Name, id); err == nil {
				existing = id
			} else if !notFound(err) {
				return err
			}
		}
	}

	if existing != 0 {
		if err := s.store.Update(ctx, related.Name, existing, attrs); err != nil {
			return err
		}
		res.Linked = append(res.Linked, existing)
		return nil
	}

	id, err := s.store.Create(ctx, related.Name, attrs)
	if err != nil {
		return err
	}
	res.Created = append(res.Created, id)
	if req.Payload.Relation.Kind == domain.RelationBelongsTo {
		if err := s.store.Update(ctx, req.Owner.Name, req.OwnerID, map[string]any{fk: id}); err != nil {
			return err
		}
	}
	res.Linked = append(res.Linked, id)
	return nil
}

func (s *Syncer) syncHasMany(ctx context.Context, req Request, related *domain.EntitySchema, res *Result) error {
	p := req.Payload
	list := items(p)
	if len(list) == 0 {
		res.skip("empty payload")
		return nil
	}
	link := map[string]any{p.Relation.ForeignKeyFor(req.Owner.Name): req.OwnerID}
	for _, item := range list {
		id, ok, err := s.resolve(ctx, related, item, p.Lookup, link, res)
		if err != nil {
			return err
		}
		if ok {
			res.Linked = append(res.Linked, id)
		}
	}
	return nil
}

type pendingLookup struct {
	value any
	attrs map[string]any
	pivot map[string]any
}

func (s *Syncer) syncManyToMany(ctx context.Context, req Request, related *domain.EntitySchema, res *Result) error {
	p := req.Payload
	list := items(p)
	if len(list) == 0 && req.Mode != domain.SyncRemove {
		res.skip("empty payload")
		return nil
	}

	var links []store.Link
	var pending []pendingLookup
	addLink := func(id int64, pivot map[string]any) {
		links = append(links, store.Link{ID: id, Attributes: merge(p.Pivot, pivot)})
	}

	for _, item := range list {
		m, isMap := item.(map[string]any)
		if !isMap {
			if p.Lookup != nil {
				pending = append(pending, pendingLookup{value: item})
				continue
			}
			id, ok := store.AsID(item)
			if !ok {
				res.skip("cannot resolve %v without a lookup", item)
				continue
			}
			addLink(id, nil)
			continue
		}

		pivot := PivotData(m)
		if id, ok := store.AsID(m["id"]); ok {
			addLink(id, pivot)
			continue
		}
		if p.Lookup != nil {
			v, ok := Extract(m, p.Lookup.Field)
			if !ok || domain.IsBlank(v) {
				res.skip("payload has no %s", p.Lookup.Field)
				continue
			}
			pending = append(pending, pendingLookup{value: v, attrs: attrsFor(related, m), pivot: pivot})
			continue
		}
		id, ok, err := s.resolveObject(ctx, related, m, nil, nil, res)
		if err != nil {
			return err
		}
		if ok {
			addLink(id, pivot)
		}
	}

	if len(pending) > 0 {
		resolved, err := s.resolveLookups(ctx, related, p.Lookup, pending, res)
		if err != nil {
			return err
		}
		for i, id := range resolved {
			if id != 0 {
				addLink(id, pending[i].pivot)
			}
		}
	}

	if len(links) == 0 && req.Mode != domain.SyncRemove {
		res.skip("no links resolved")
		return nil
	}
	sr, err := s.store.SyncLinks(ctx, req.Owner.Name, req.OwnerID, p.Relation.Name, links, req.Mode)
	if err != nil {
		return err
	}
	res.Sync = &sr
	for _, l := range links {
		res.Linked = append(res.Linked, l.ID)
	}
	return nil
}

// resolveLookups finds every lookup value with one FindAllBy query and creates the
// missing ones when allowed. The returned ids line up with pending; 0 marks a skip.
func (s *Syncer) resolveLookups(ctx context.Context, related *domain.EntitySchema, lookup *domain.RelationLookup, pending []pendingLookup, res *Result) ([]int64, error) {
	values := make([]any, 0, len(pending))
	seen := make(map[string]bool)
	for _, pl := range pending {
		key := fmt.Sprint(pl.value)
		if !seen[key] {
			seen[key] = true
			values = append(values, pl.value)
		}
	}

	recs, err := s.store.FindAllBy(ctx, related.Name, lookup.Field, values)
	if err != nil {
		return nil, err
	}
	found := make(map[string]int64, len(recs))
	for _, rec := range recs {
		key := fmt.Sprint(rec[lookup.Field])
		if _, dup := found[key]; !dup {
			found[key] = rec.ID()
		}
	}

	out := make([]int64, len(pending))
	for i, pl := range pending {
		key := fmt.Sprint(pl.value)
		if id, ok := found[key]; ok {
			out[i] = id
			continue
		}
		if !lookup.CreateIfMissing {
			res.skip("%s with %s=%v not found", related.Name, lookup.Field, pl.value)
			continue
		}
		create := merge(pl.attrs, nil)
		create[lookup.Field] = pl.value
		id, err := s.store.Create(ctx, related.Name, create)
		if err != nil {
			return nil, err
		}
		res.Created = append(res.Created, id)
		found[key] = id
		out[i] = id
	}
	return out, nil
}
