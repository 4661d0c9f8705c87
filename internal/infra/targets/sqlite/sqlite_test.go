package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/store"
)

func catalog() *domain.Catalog {
	return &domain.Catalog{Entities: []domain.EntitySchema{
		{Name: "authors", Fields: []domain.FieldMeta{{Name: "name", Type: "string"}}, UniqueKeys: []string{"name"}},
		{
			Name: "books",
			Fields: []domain.FieldMeta{
				{Name: "title", Type: "string"},
				{Name: "isbn", Type: "string"},
				{Name: "in_print", Type: "bool"},
				{Name: "pages", Type: "int"},
			},
			UniqueKeys: []string{"isbn"},
			Relations: []domain.RelationMeta{
				{Name: "author", Kind: domain.RelationBelongsTo, Related: "authors"},
				{Name: "tags", Kind: domain.RelationManyToMany, Related: "tags", PivotFields: []string{"weight"}},
			},
		},
		{Name: "tags", Fields: []domain.FieldMeta{{Name: "name", Type: "string"}}},
	}}
}

func openTemp(t *testing.T) store.EntityStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data.sqlite"), catalog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	authorID, err := s.Create(ctx, "authors", map[string]any{"name": "Frank Herbert"})
	require.NoError(t, err)

	id, err := s.Create(ctx, "books", map[string]any{"title": "Dune", "isbn": "9780441013593", "in_print": true, "author_id": authorID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := s.Get(ctx, "books", id)
	require.NoError(t, err)
	assert.Equal(t, "Dune", rec["title"])
	assert.Equal(t, true, rec["in_print"])
	assert.Equal(t, authorID, rec["author_id"])
	assert.Nil(t, rec["pages"])

	require.NoError(t, s.Update(ctx, "books", id, map[string]any{"pages": 412, "in_print": false}))
	rec, err = s.Get(ctx, "books", id)
	require.NoError(t, err)
	assert.Equal(t, int64(412), rec["pages"])
	assert.Equal(t, false, rec["in_print"])

	err = s.Update(ctx, "books", 99, map[string]any{"pages": 1})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Create(ctx, "books", map[string]any{"publisher": "Chilton"})
	assert.ErrorContains(t, err, "unknown field: publisher")
}

func TestStore_FindAllByIsOneLookup(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	for _, name := range []string{"fiction", "classic", "poetry"} {
		_, err := s.Create(ctx, "tags", map[string]any{"name": name})
		require.NoError(t, err)
	}

	recs, err := s.FindAllBy(ctx, "tags", "name", []any{"classic", "fiction", "missing"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "fiction", recs[0]["name"])
	assert.Equal(t, "classic", recs[1]["name"])

	rec, err := s.FindBy(ctx, "tags", "id", "3")
	require.NoError(t, err)
	assert.Equal(t, "poetry", rec["name"])

	_, err = s.FindBy(ctx, "tags", "name", "drama")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindAllBy(ctx, "tags", "colour", []any{"red"})
	assert.Error(t, err)
}

func TestStore_SyncLinks(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	book, err := s.Create(ctx, "books", map[string]any{"title": "Dune"})
	require.NoError(t, err)

	res, err := s.SyncLinks(ctx, "books", book, "tags", []store.Link{{ID: 1}, {ID: 2, Attributes: map[string]any{"weight": 3}}}, domain.SyncReplace)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.Attached)

	res, err = s.SyncLinks(ctx, "books", book, "tags", []store.Link{{ID: 2, Attributes: map[string]any{"weight": 5}}, {ID: 3}}, domain.SyncAdd)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, res.Attached)
	assert.Equal(t, []int64{2}, res.Updated)
	assert.Empty(t, res.Detached)

	res, err = s.SyncLinks(ctx, "books", book, "tags", []store.Link{{ID: 3}}, domain.SyncReplace)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.Detached)

	links, err := s.Links(ctx, "books", book, "tags")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, int64(3), links[0].ID)

	res, err = s.SyncLinks(ctx, "books", book, "tags", nil, domain.SyncRemove)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, res.Detached)

	_, err = s.SyncLinks(ctx, "books", book, "author", nil, domain.SyncReplace)
	assert.Error(t, err)
}
