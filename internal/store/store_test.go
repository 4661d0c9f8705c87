package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
)

func TestReconcile(t *testing.T) {
	current := []Link{{ID: 1}, {ID: 2, Attributes: map[string]any{"w": "1"}}, {ID: 3}}
	desired := []Link{{ID: 2, Attributes: map[string]any{"w": 2}}, {ID: 4}, {ID: 4}}

	plan, err := Reconcile(current, desired, domain.SyncReplace)
	require.NoError(t, err)
	res := plan.Result()
	assert.Equal(t, []int64{4}, res.Attached)
	assert.Equal(t, []int64{1, 3}, res.Detached)
	assert.Equal(t, []int64{2}, res.Updated)

	plan, err = Reconcile(current, desired, domain.SyncAdd)
	require.NoError(t, err)
	assert.Empty(t, plan.Detach)
	assert.Len(t, plan.Attach, 1)

	plan, err = Reconcile(current, []Link{{ID: 3}, {ID: 9}}, domain.SyncRemove)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, plan.Detach)
	assert.Empty(t, plan.Attach)

	plan, err = Reconcile(current, nil, domain.SyncRemove)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, plan.Detach)

	plan, err = Reconcile(current, []Link{{ID: 1}}, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, plan.Detach)

	_, err = Reconcile(nil, nil, "merge")
	assert.ErrorContains(t, err, "unsupported sync mode: merge")
}

func TestColumns(t *testing.T) {
	cat := &domain.Catalog{Entities: []domain.EntitySchema{
		{
			Name:   "users",
			Fields: []domain.FieldMeta{{Name: "id", Type: "int"}, {Name: "email", Type: "string"}},
			Relations: []domain.RelationMeta{
				{Name: "profile", Kind: domain.RelationHasOne, Related: "profiles"},
				{Name: "team", Kind: domain.RelationBelongsTo, Related: "teams"},
			},
		},
		{Name: "profiles", Fields: []domain.FieldMeta{{Name: "bio", Type: "text"}}},
		{Name: "teams", Fields: []domain.FieldMeta{{Name: "name", Type: "string"}}},
	}}
	users, _ := cat.Entity("users")
	profiles, _ := cat.Entity("profiles")

	assert.Equal(t, []Column{{"email", "string"}, {"team_id", "int"}}, Columns(cat, users))
	assert.Equal(t, []Column{{"bio", "text"}, {"users_id", "int"}}, Columns(cat, profiles))

	clean, err := Filter(Columns(cat, users), map[string]any{"id": 1, "email": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "x"}, clean)

	_, err = Filter(Columns(cat, users), map[string]any{"bio": "x"})
	assert.ErrorContains(t, err, "unknown field: bio")
}

func TestAsID(t *testing.T) {
	for _, v := range []any{int64(5), 5, float64(5), "5", []byte("5")} {
		id, ok := AsID(v)
		assert.True(t, ok, "%T", v)
		assert.Equal(t, int64(5), id)
	}
	for _, v := range []any{nil, "x", 5.5, true} {
		_, ok := AsID(v)
		assert.False(t, ok, "%v", v)
	}
}
