package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/targets/sqlstore"
	"github.com/mmrzaf/etlflow/internal/store"
)

func catalog() *domain.Catalog {
	return &domain.Catalog{Entities: []domain.EntitySchema{
		{Name: "authors", Fields: []domain.FieldMeta{{Name: "name", Type: "string", MaxLength: 120}}},
		{
			Name:   "books",
			Fields: []domain.FieldMeta{{Name: "title", Type: "string"}, {Name: "isbn", Type: "string"}},
			Relations: []domain.RelationMeta{
				{Name: "author", Kind: domain.RelationBelongsTo, Related: "authors"},
				{Name: "tags", Kind: domain.RelationManyToMany, Related: "tags"},
			},
		},
	}}
}

func newMock(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlstore.New(db, catalog(), NewDialect("")), mock
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS public.authors (id BIGSERIAL PRIMARY KEY, name VARCHAR(120))")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS public.books (id BIGSERIAL PRIMARY KEY, title VARCHAR(255), isbn VARCHAR(255), author_id BIGINT)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS idx_books_author_id ON public.books (author_id)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS public.books_tags (books_id BIGINT NOT NULL, tags_id BIGINT NOT NULL, PRIMARY KEY (books_id, tags_id))")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReturnsID(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO public.books (isbn, title) VALUES ($1, $2) RETURNING id")).
		WithArgs("0451", "Dune").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := s.Create(context.Background(), "books", map[string]any{"title": "Dune", "isbn": "0451"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAllByUsesSingleQuery(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, isbn, author_id FROM public.books WHERE isbn IN ($1, $2) ORDER BY id")).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "isbn", "author_id"}).
			AddRow(int64(1), []byte("Dune"), "a", nil).
			AddRow(int64(2), "Emma", "b", int64(4)))

	recs, err := s.FindAllBy(context.Background(), "books", "isbn", []any{"a", "b"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Dune", recs[0]["title"])
	assert.Equal(t, int64(4), recs[1]["author_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE public.books SET title = $1 WHERE id = $2")).
		WithArgs("Dune", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Update(context.Background(), "books", 9, map[string]any{"title": "Dune"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncLinksInTransaction(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT tags_id FROM public.books_tags WHERE books_id = $1 ORDER BY tags_id")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"tags_id"}).AddRow(int64(2)).AddRow(int64(5)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM public.books_tags WHERE books_id = $1 AND tags_id = $2")).
		WithArgs(int64(1), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO public.books_tags (books_id, tags_id) VALUES ($1, $2)")).
		WithArgs(int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.SyncLinks(context.Background(), "books", 1, "tags", []store.Link{{ID: 2}, {ID: 3}}, domain.SyncReplace)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, res.Attached)
	assert.Equal(t, []int64{5}, res.Detached)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapColumnType(t *testing.T) {
	assert.Equal(t, "VARCHAR(255)", mapColumnType(domain.FieldTypeString, 0))
	assert.Equal(t, "VARCHAR(40)", mapColumnType(domain.FieldTypeString, 40))
	assert.Equal(t, "JSONB", mapColumnType(domain.FieldTypeJSON, 0))
	assert.Equal(t, "BOOLEAN", mapColumnType(domain.FieldTypeBool, 0))
}
