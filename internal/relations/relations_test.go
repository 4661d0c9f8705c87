package relations

import (
	"context"
	"testing"

	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/targets/memory"
	"github.com/mmrzaf/etlflow/internal/store"
)

func catalog() *domain.Catalog {
	return &domain.Catalog{Entities: []domain.EntitySchema{
		{Name: "authors", Fields: []domain.FieldMeta{{Name: "name", Type: "string"}, {Name: "email", Type: "string"}}, UniqueKeys: []string{"email"}},
		{
			Name:   "books",
			Fields: []domain.FieldMeta{{Name: "title", Type: "string"}},
			Relations: []domain.RelationMeta{
				{Name: "author", Kind: domain.RelationBelongsTo, Related: "authors"},
				{Name: "tags", Kind: domain.RelationManyToMany, Related: "tags", PivotFields: []string{"weight"}},
				{Name: "reviews", Kind: domain.RelationHasMany, Related: "reviews"},
				{Name: "cover", Kind: domain.RelationHasOne, Related: "covers"},
			},
		},
		{Name: "tags", Fields: []domain.FieldMeta{{Name: "name", Type: "string"}}},
		{Name: "reviews", Fields: []domain.FieldMeta{{Name: "body", Type: "text"}, {Name: "reviewer_name", Type: "string"}}},
		{Name: "covers", Fields: []domain.FieldMeta{{Name: "url", Type: "string"}}},
	}}
}

type fixture struct {
	store  *memory.Store
	syncer *Syncer
	books  *domain.EntitySchema
	bookID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New(catalog())
	id, err := s.Create(context.Background(), "books", map[string]any{"title": faker.Sentence()})
	require.NoError(t, err)
	books, err := s.Schema("books")
	require.NoError(t, err)
	return &fixture{store: s, syncer: NewSyncer(s, nil), books: books, bookID: id}
}

func (f *fixture) payload(t *testing.T, name string) *Payload {
	t.Helper()
	rel, ok := f.books.Relation(name)
	require.True(t, ok)
	return &Payload{Relation: rel, Fields: map[string]any{}, Items: map[int]map[string]any{}, Pivot: map[string]any{}}
}

func (f *fixture) sync(t *testing.T, p *Payload, mode domain.SyncMode) Result {
	t.Helper()
	res, err := f.syncer.Sync(context.Background(), Request{Owner: f.books, OwnerID: f.bookID, Payload: p, Mode: mode})
	require.NoError(t, err)
	return res
}

func TestManyToMany_DelimitedLookupCreatesOnce(t *testing.T) {
	f := newFixture(t)
	p := f.payload(t, "tags")
	p.Value = "fiction, classic,fiction"
	p.Lookup = &domain.RelationLookup{Field: "name", CreateIfMissing: true, Delimiter: ","}

	res := f.sync(t, p, domain.SyncReplace)
	assert.Len(t, res.Created, 2)
	assert.Len(t, f.store.All("tags"), 2)
	assert.Equal(t, 1, f.store.Queries())

	res = f.sync(t, p, domain.SyncReplace)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Sync.Attached)
	assert.Len(t, f.store.All("tags"), 2)
	assert.Equal(t, 2, f.store.Queries())

	links, err := f.store.Links(context.Background(), "books", f.bookID, "tags")
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestManyToMany_LookupWithoutCreateIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.Create(ctx, "tags", map[string]any{"name": "poetry"})
	require.NoError(t, err)

	p := f.payload(t, "tags")
	p.Value = []any{"poetry", "drama"}
	p.Lookup = &domain.RelationLookup{Field: "name"}
	res := f.sync(t, p, domain.SyncReplace)
	assert.Equal(t, []int64{1}, res.Linked)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0], "name=drama not found")
}

func TestManyToMany_ExplicitIDsWithPivotAndModes(t *testing.T) {
	f := newFixture(t)
	p := f.payload(t, "tags")
	p.Value = []any{
		map[string]any{"id": 4, "pivot": map[string]any{"weight": 2}},
		map[string]any{"id": 5},
	}
	p.Pivot["weight"] = 1
	res := f.sync(t, p, domain.SyncReplace)
	assert.Equal(t, []int64{4, 5}, res.Sync.Attached)

	links, err := f.store.Links(context.Background(), "books", f.bookID, "tags")
	require.NoError(t, err)
	assert.Equal(t, 2, links[0].Attributes["weight"])
	assert.Equal(t, 1, links[1].Attributes["weight"])

	empty := f.payload(t, "tags")
	res = f.sync(t, empty, domain.SyncRemove)
	assert.Equal(t, []int64{4, 5}, res.Sync.Detached)

	res = f.sync(t, f.payload(t, "tags"), domain.SyncReplace)
	assert.Nil(t, res.Sync)
	assert.Equal(t, []string{"empty payload"}, res.Skipped)
}

func TestBelongsTo_LookupAndCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.payload(t, "author")
	p.Value = "ada@example.com"
	p.Lookup = &domain.RelationLookup{Field: "email"}
	res := f.sync(t, p, "")
	assert.Empty(t, res.Linked)
	assert.Len(t, res.Skipped, 1)

	p.Lookup.CreateIfMissing = true
	res = f.sync(t, p, "")
	require.Len(t, res.Created, 1)
	book, err := f.store.Get(ctx, "books", f.bookID)
	require.NoError(t, err)
	assert.Equal(t, res.Created[0], book["author_id"])
}

func TestBelongsTo_NestedTargetLookup(t *testing.T) {
	s := memory.New(catalog())
	ctx := context.Background()
	syncer := NewSyncer(s, nil)
	books, err := s.Schema("books")
	require.NoError(t, err)
	tolkien, err := s.Create(ctx, "authors", map[string]any{"name": "Tolkien"})
	require.NoError(t, err)

	m := domain.EntityMapping{Model: "books", Columns: []domain.ColumnMapping{
		{Source: "title", Target: "title"},
		{Source: "author", Target: "author.name", RelationLookup: &domain.RelationLookup{Field: "name"}},
	}}
	for _, row := range [][2]string{{"Hobbit", "Tolkien"}, {"Dune", "Herbert"}} {
		attrs, payloads, unknown := Split(books, m, map[string]any{"title": row[0], "author.name": row[1]})
		require.Empty(t, unknown)
		require.Len(t, payloads, 1)
		require.NotNil(t, payloads[0].Lookup)

		id, err := s.Create(ctx, "books", attrs)
		require.NoError(t, err)
		_, err = syncer.Sync(ctx, Request{Owner: books, OwnerID: id, Payload: payloads[0]})
		require.NoError(t, err)
	}

	assert.Len(t, s.All("authors"), 1)
	stored := s.All("books")
	require.Len(t, stored, 2)
	assert.Equal(t, tolkien, stored[0]["author_id"])
	assert.Nil(t, stored[1]["author_id"])
}

func TestBelongsTo_NestedFieldsKeyedByOwner(t *testing.T) {
	f := newFixture(t)
	p := f.payload(t, "author")
	p.Fields["name"] = "Ada"

	first := f.sync(t, p, "")
	require.Len(t, first.Created, 1)

	p.Fields["name"] = "Ada Lovelace"
	second := f.sync(t, p, "")
	assert.Empty(t, second.Created)
	assert.Equal(t, first.Created, second.Linked)
	assert.Equal(t, "Ada Lovelace", f.store.All("authors")[0]["name"])
}

func TestHasOne_OwnedRecordUpdatedInPlace(t *testing.T) {
	f := newFixture(t)
	p := f.payload(t, "cover")
	p.Value = map[string]any{"URL": "https://img/1.png", "_meta": "x"}

	f.sync(t, p, "")
	p.Value = map[string]any{"url": "https://img/2.png"}
	f.sync(t, p, "")

	covers := f.store.All("covers")
	require.Len(t, covers, 1)
	assert.Equal(t, "https://img/2.png", covers[0]["url"])
	assert.Equal(t, f.bookID, covers[0]["books_id"])

	p.Value = map[string]any{"id": nil, "_pivot": map[string]any{}}
	res := f.sync(t, p, "")
	assert.Equal(t, []string{"empty payload"}, res.Skipped)
}

func TestHasMany_ItemsGetOwnerForeignKey(t *testing.T) {
	f := newFixture(t)
	p := f.payload(t, "reviews")
	p.Items[0] = map[string]any{"body": "Great", "reviewerName": "Bo"}
	p.Items[1] = map[string]any{"body": ""}
	p.Items[2] = map[string]any{"body": "Slow start"}

	res := f.sync(t, p, "")
	assert.Len(t, res.Created, 2)
	assert.Equal(t, []string{"empty payload"}, res.Skipped)
	for _, r := range f.store.All("reviews") {
		assert.Equal(t, f.bookID, r["books_id"])
	}
	assert.Equal(t, "Bo", f.store.All("reviews")[0]["reviewer_name"])
}

func TestExtractKeyVariants(t *testing.T) {
	m := map[string]any{"firstName": "Ada", "LastName": "Lovelace", "birthyear": 1815, "E-Mail": "a@b.io"}
	for key, want := range map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"birth_year": 1815,
		"e_mail":     "a@b.io",
	} {
		got, ok := Extract(m, key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := Extract(m, "age")
	assert.False(t, ok)
	assert.Equal(t, []string{"first_name", "firstName", "FirstName", "firstname"}, KeyVariants("first_name"))
}

func TestSplit(t *testing.T) {
	books, _ := catalog().Entity("books")
	m := domain.EntityMapping{Columns: []domain.ColumnMapping{
		{Source: "t", Target: "tags", RelationLookup: &domain.RelationLookup{Field: "name", Delimiter: ","}},
	}}
	attrs, payloads, unknown := Split(books, m, map[string]any{
		"title":              "Dune",
		"tags":               "a,b",
		"tags.pivot.weight":  3,
		"author.name":        "Frank",
		"reviews.*.body":     []any{"x", "y"},
		"reviews.1.rating":   5,
		"publisher.name":     "Chilton",
	})
	assert.Equal(t, map[string]any{"title": "Dune"}, attrs)
	assert.Equal(t, []string{"publisher.name"}, unknown)
	require.Len(t, payloads, 3)

	byName := map[string]*Payload{}
	for _, p := range payloads {
		byName[p.Relation.Name] = p
	}
	assert.Equal(t, "Frank", byName["author"].Fields["name"])
	assert.Equal(t, 3, byName["tags"].Pivot["weight"])
	assert.Equal(t, ",", byName["tags"].Lookup.Delimiter)
	assert.Equal(t, map[string]any{"body": "y", "rating": 5}, byName["reviews"].Items[1])
}

func TestIsEmptyPayload(t *testing.T) {
	assert.True(t, IsEmptyPayload(map[string]any{"id": 3, "pivot": map[string]any{"a": 1}}))
	assert.True(t, IsEmptyPayload(map[string]any{"name": "  ", "note": nil}))
	assert.False(t, IsEmptyPayload(map[string]any{"name": "x"}))
	var _ store.EntityStore = memory.New(catalog())
}
