package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/transforms"
)

func userMapping() domain.EntityMapping {
	return domain.EntityMapping{
		Model: "users",
		Columns: []domain.ColumnMapping{
			{Source: "Email", Target: "email", Transforms: []string{"trim", "lower"}, ValidationRule: "required|email|max:255"},
			{Source: "Name", Target: "name", Transforms: []string{"clean_whitespace"}, ValidationRule: "required"},
			{Source: "Age", Target: "age", Transforms: []string{"cast:int"}, ValidationRule: "nullable|integer|between:0,150"},
			{Source: "Role", Target: "role", Default: "member", ValidationRule: "in:admin,member"},
		},
	}
}

func TestValidateRow_PassesAndTransforms(t *testing.T) {
	rv := NewRowValidator(nil)
	row := domain.Row{Values: map[string]any{"Email": "  Ada@Example.COM ", "Name": "Ada   Lovelace", "Age": "36", "Role": ""}, Line: 2}

	res := rv.ValidateRow(row, userMapping())
	require.True(t, res.Passes, "errors: %v", res.Errors)
	assert.Equal(t, map[string]any{
		"email": "ada@example.com",
		"name":  "Ada Lovelace",
		"age":   int64(36),
		"role":  "member",
	}, res.Values)
	assert.Empty(t, res.Messages())
}

func TestValidateRow_GroupsFailuresByTarget(t *testing.T) {
	rv := NewRowValidator(nil)
	row := domain.Row{Values: map[string]any{"Email": "not-an-email", "Name": "  ", "Age": "200", "Role": "root"}}

	res := rv.ValidateRow(row, userMapping())
	require.False(t, res.Passes)
	assert.Equal(t, []string{"The email field must be a valid email address."}, res.Errors["email"])
	assert.Equal(t, []string{"The name field is required."}, res.Errors["name"])
	assert.Equal(t, []string{"The age field must not be greater than 150."}, res.Errors["age"])
	assert.Equal(t, []string{"The selected role is invalid."}, res.Errors["role"])
	assert.Len(t, res.Messages(), 4)
}

func TestValidateRow_NullableSkipsRules(t *testing.T) {
	rv := NewRowValidator(nil)
	row := domain.Row{Values: map[string]any{"Email": "a@b.io", "Name": "A"}}
	res := rv.ValidateRow(row, userMapping())
	require.True(t, res.Passes, "errors: %v", res.Errors)
	assert.Nil(t, res.Values["age"])
}

func TestValidateRow_TransformErrorFailsField(t *testing.T) {
	rv := NewRowValidator(transforms.NewEngine(transforms.NewRegistry()))
	m := domain.EntityMapping{Model: "users", Columns: []domain.ColumnMapping{
		{Source: "x", Target: "x", Transforms: []string{"nope"}},
		{Source: "y", Target: "y", ValidationRule: "min:3"},
	}}
	res := rv.ValidateRow(domain.Row{Values: map[string]any{"x": "1", "y": true}}, m)
	require.False(t, res.Passes)
	assert.Contains(t, res.Errors["x"][0], "unknown transform")
	assert.Contains(t, res.Errors["y"][0], "does not apply")
}

func TestValidateRow_CollectsTransformWarnings(t *testing.T) {
	rv := NewRowValidator(nil)
	m := domain.EntityMapping{Model: "books", Columns: []domain.ColumnMapping{
		{Source: "published", Target: "published_on", Transforms: []string{"cast:date"}, ValidationRule: "date"},
	}}
	res := rv.ValidateRow(domain.Row{Values: map[string]any{"published": "1965"}}, m)
	require.True(t, res.Passes, "errors: %v", res.Errors)
	assert.Equal(t, "1965-01-01", res.Values["published_on"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "published_on: bare year")
}

func TestValidateRow_RequiredAcceptsZeroAndFalse(t *testing.T) {
	rv := NewRowValidator(nil)
	m := domain.EntityMapping{Model: "items", Columns: []domain.ColumnMapping{
		{Source: "qty", Target: "qty", Transforms: []string{"cast:int"}, ValidationRule: "required|integer|min:0"},
		{Source: "active", Target: "active", Transforms: []string{"cast:bool"}, ValidationRule: "required|boolean"},
		{Source: "rank", Target: "rank", Transforms: []string{"cast:int"}, ValidationRule: "nullable|integer|min:1"},
	}}

	res := rv.ValidateRow(domain.Row{Values: map[string]any{"qty": "0", "active": "false"}}, m)
	require.True(t, res.Passes, "errors: %v", res.Errors)
	assert.Equal(t, int64(0), res.Values["qty"])
	assert.Equal(t, false, res.Values["active"])

	res = rv.ValidateRow(domain.Row{Values: map[string]any{"qty": "", "active": "true", "rank": "0"}}, m)
	require.False(t, res.Passes)
	assert.Equal(t, []string{"The qty field is required."}, res.Errors["qty"])
	assert.Equal(t, []string{"The rank field must be at least 1."}, res.Errors["rank"])
	assert.Empty(t, res.Errors["active"])
}

func TestTranslateRule(t *testing.T) {
	cases := map[string]string{
		"":                         "",
		"required|email|max:255":   "required,email,max=255",
		"email":                    "omitempty,email",
		"nullable|in:a,b c":        "omitempty,oneof=a 'b c'",
		"alpha_num|size:4":         "omitempty,alphanum,len=4",
		"required|digits:5":        "required,number,len=5",
		"required,max=10":          "required,max=10",
		"integer|between:1,9":      "omitempty,integer_value,min=1,max=9",
		"string|date":              "omitempty,date_value",
		"boolean|required":         "required,boolean",
	}
	for rule, want := range cases {
		got, err := TranslateRule(rule)
		require.NoError(t, err, rule)
		assert.Equal(t, want, got, rule)
	}

	for _, bad := range []string{"regex:/x/", "max:ten", "between:1", "in:"} {
		_, err := TranslateRule(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateRow_NestedTargets(t *testing.T) {
	rv := NewRowValidator(nil)
	m := domain.EntityMapping{Model: "books", Columns: []domain.ColumnMapping{
		{Source: "author", Target: "author.full_name", Transforms: []string{"upper"}, ValidationRule: "required"},
		{Source: "reviews", Target: "reviews.*.body", Transforms: []string{"trim"}, ValidationRule: "required|max:10"},
	}}
	row := domain.Row{Values: map[string]any{
		"author":  map[string]any{"fullName": "ada"},
		"reviews": []any{map[string]any{"body": " good "}, map[string]any{"Body": "fine"}},
	}}
	res := rv.ValidateRow(row, m)
	require.True(t, res.Passes, "errors: %v", res.Errors)
	assert.Equal(t, "ADA", res.Values["author.full_name"])
	assert.Equal(t, []any{"good", "fine"}, res.Values["reviews.*.body"])

	row.Values["reviews"] = []any{map[string]any{"body": "far too long for ten"}}
	res = rv.ValidateRow(row, m)
	require.False(t, res.Passes)
	assert.Equal(t, []string{"The reviews.*.body field must not be greater than 10."}, res.Errors["reviews.*.body"])
}
