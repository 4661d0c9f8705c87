package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/store"
)

// Store keeps entities in maps. It backs dry runs and tests.
type Store struct {
	catalog *domain.Catalog

	mu      sync.RWMutex
	records map[string]map[int64]store.Record
	nextID  map[string]int64
	links   map[linkKey]map[int64]map[string]any
	queries int
}

type linkKey struct {
	entity   string
	relation string
	owner    int64
}

func New(catalog *domain.Catalog) *Store {
	return &Store{
		catalog: catalog,
		records: make(map[string]map[int64]store.Record),
		nextID:  make(map[string]int64),
		links:   make(map[linkKey]map[int64]map[string]any),
	}
}

var _ store.EntityStore = (*Store)(nil)

func (s *Store) Schema(entity string) (*domain.EntitySchema, error) {
	return s.catalog.Entity(entity)
}

func (s *Store) columns(entity string) ([]store.Column, error) {
	schema, err := s.catalog.Entity(entity)
	if err != nil {
		return nil, err
	}
	return store.Columns(s.catalog, schema), nil
}

func (s *Store) Create(_ context.Context, entity string, attrs map[string]any) (int64, error) {
	cols, err := s.columns(entity)
	if err != nil {
		return 0, err
	}
	clean, err := store.Filter(cols, attrs)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", entity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID[entity]++
	id := s.nextID[entity]
	rec := store.Record{"id": id}
	for k, v := range clean {
		rec[k] = v
	}
	if s.records[entity] == nil {
		s.records[entity] = make(map[int64]store.Record)
	}
	s.records[entity][id] = rec
	return id, nil
}

func (s *Store) Update(_ context.Context, entity string, id int64, attrs map[string]any) error {
	cols, err := s.columns(entity)
	if err != nil {
		return err
	}
	clean, err := store.Filter(cols, attrs)
	if err != nil {
		return fmt.Errorf("update %s: %w", entity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entity][id]
	if !ok {
		return fmt.Errorf("update %s %d: %w", entity, id, store.ErrNotFound)
	}
	for k, v := range clean {
		rec[k] = v
	}
	return nil
}

func (s *Store) Get(_ context.Context, entity string, id int64) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[entity][id]
	if !ok {
		return nil, fmt.Errorf("get %s %d: %w", entity, id, store.ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (s *Store) FindBy(ctx context.Context, entity, field string, value any) (store.Record, error) {
	recs, err := s.FindAllBy(ctx, entity, field, []any{value})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("find %s by %s: %w", entity, field, store.ErrNotFound)
	}
	return recs[0], nil
}

// FindAllBy matches on the printed form so "7" finds 7, the way SQL comparison would.
func (s *Store) FindAllBy(_ context.Context, entity, field string, values []any) ([]store.Record, error) {
	if _, err := s.catalog.Entity(entity); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[fmt.Sprint(v)] = true
	}

	s.mu.Lock()
	s.queries++
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Record, 0)
	for _, id := range s.sortedIDs(entity) {
		rec := s.records[entity][id]
		v, ok := rec[field]
		if ok && v != nil && want[fmt.Sprint(v)] {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (s *Store) sortedIDs(entity string) []int64 {
	ids := make([]int64, 0, len(s.records[entity]))
	for id := range s.records[entity] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) relation(entity, relation string) (domain.RelationMeta, error) {
	schema, err := s.catalog.Entity(entity)
	if err != nil {
		return domain.RelationMeta{}, err
	}
	rel, ok := schema.Relation(relation)
	if !ok || rel.Kind != domain.RelationManyToMany {
		return domain.RelationMeta{}, fmt.Errorf("%s has no many_to_many relation %s", entity, relation)
	}
	return rel, nil
}

func (s *Store) SyncLinks(_ context.Context, entity string, id int64, relation string, links []store.Link, mode domain.SyncMode) (store.SyncResult, error) {
	if _, err := s.relation(entity, relation); err != nil {
		return store.SyncResult{}, err
	}
	key := linkKey{entity: entity, relation: relation, owner: id}

	s.mu.Lock()
	defer s.mu.Unlock()
	plan, err := store.Reconcile(s.currentLinks(key), links, mode)
	if err != nil {
		return store.SyncResult{}, err
	}
	set := s.links[key]
	if set == nil {
		set = make(map[int64]map[string]any)
		s.links[key] = set
	}
	for _, rid := range plan.Detach {
		delete(set, rid)
	}
	for _, l := range plan.Attach {
		set[l.ID] = copyAttrs(l.Attributes)
	}
	for _, l := range plan.Update {
		for k, v := range l.Attributes {
			set[l.ID][k] = v
		}
	}
	return plan.Result(), nil
}

func (s *Store) currentLinks(key linkKey) []store.Link {
	set := s.links[key]
	ids := make([]int64, 0, len(set))
	for rid := range set {
		ids = append(ids, rid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]store.Link, 0, len(ids))
	for _, rid := range ids {
		out = append(out, store.Link{ID: rid, Attributes: copyAttrs(set[rid])})
	}
	return out
}

func (s *Store) Links(_ context.Context, entity string, id int64, relation string) ([]store.Link, error) {
	if _, err := s.relation(entity, relation); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLinks(linkKey{entity: entity, relation: relation, owner: id}), nil
}

// All returns every record of an entity ordered by id.
func (s *Store) All(entity string) []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Record, 0, len(s.records[entity]))
	for _, id := range s.sortedIDs(entity) {
		out = append(out, copyRecord(s.records[entity][id]))
	}
	return out
}

// Queries counts FindBy/FindAllBy lookups.
func (s *Store) Queries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

func (s *Store) Close() error { return nil }

func copyRecord(r store.Record) store.Record {
	out := make(store.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func copyAttrs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
