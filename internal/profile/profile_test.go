package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/readers"
)

func TestProfileDelimited(t *testing.T) {
	data := "Full Name,age,score,active,joined\n" +
		"Ada Lovelace,36,9.5,yes,1843-01-01\n" +
		"Alan Turing,41,8,no,1936-05-28\n" +
		"Grace Hopper,,7.25,yes,1944-07-01\n"
	format := domain.DetectedFormat{Kind: domain.FileKindCSV, Delimiter: ",", Quote: `"`, HasHeader: true, Encoding: domain.EncodingUTF8}
	r, err := readers.Open(format, readers.BytesSource("people.csv", []byte(data)), readers.Options{})
	require.NoError(t, err)
	defer r.Close()

	schema, err := Profile(r, 0)
	require.NoError(t, err)
	require.Len(t, schema.Columns, 5)

	byName := map[string]domain.SourceColumn{}
	for _, c := range schema.Columns {
		byName[c.Name] = c
	}
	assert.Equal(t, "Full Name", schema.Columns[0].Name)
	assert.Equal(t, TypeString, byName["Full Name"].Type)
	assert.False(t, byName["Full Name"].Nullable)
	assert.Len(t, byName["Full Name"].Samples, 3)
	assert.Equal(t, TypeInteger, byName["age"].Type)
	assert.True(t, byName["age"].Nullable)
	assert.Equal(t, TypeFloat, byName["score"].Type)
	assert.Equal(t, TypeBoolean, byName["active"].Type)
	assert.Equal(t, []string{"yes", "no"}, byName["active"].Samples)
	assert.Equal(t, TypeDate, byName["joined"].Type)
}

func TestProfileJSONMissingKeysAreNullable(t *testing.T) {
	data := `[{"id": 1, "tags": ["a"], "meta": {"k": 1}}, {"id": 2.5, "extra": "x"}]`
	format := domain.DetectedFormat{Kind: domain.FileKindJSON, Encoding: domain.EncodingUTF8}
	r, err := readers.Open(format, readers.BytesSource("rows.json", []byte(data)), readers.Options{})
	require.NoError(t, err)
	defer r.Close()

	schema, err := Profile(r, 10)
	require.NoError(t, err)
	byName := map[string]domain.SourceColumn{}
	for _, c := range schema.Columns {
		byName[c.Name] = c
	}
	assert.Equal(t, TypeFloat, byName["id"].Type)
	assert.False(t, byName["id"].Nullable)
	assert.Equal(t, TypeArray, byName["tags"].Type)
	assert.True(t, byName["tags"].Nullable)
	assert.Equal(t, TypeObject, byName["meta"].Type)
	assert.True(t, byName["extra"].Nullable)
}

func TestWidenMixedBecomesString(t *testing.T) {
	assert.Equal(t, TypeFloat, widen(TypeInteger, TypeFloat))
	assert.Equal(t, TypeString, widen(TypeInteger, TypeDate))
	assert.Equal(t, TypeBoolean, widen("", TypeBoolean))
	assert.Equal(t, TypeString, inferString("tomorrow"))
	assert.Equal(t, TypeInteger, inferString("2024"))
}

func TestDraftMapping(t *testing.T) {
	schema := &domain.SourceSchema{Columns: []domain.SourceColumn{
		{Name: "Full Name", Type: TypeString},
		{Name: "birthDate", Type: TypeDate, Nullable: true},
		{Name: "score", Type: TypeFloat},
	}}
	def := DraftMapping(schema, "people")
	require.Len(t, def.Mappings, 1)
	cols := def.Mappings[0].Columns
	assert.Equal(t, "full_name", cols[0].Target)
	assert.Equal(t, "required", cols[0].ValidationRule)
	assert.Equal(t, "birth_date", cols[1].Target)
	assert.Equal(t, []string{"cast:date"}, cols[1].Transforms)
	assert.Empty(t, cols[1].ValidationRule)
	assert.Equal(t, []string{"cast:float"}, cols[2].Transforms)
	assert.Same(t, schema, def.SourceSchema)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"First Name":   "first_name",
		"firstName":    "first_name",
		"  e-mail  ":   "e_mail",
		"ISBN":         "isbn",
		"address2line": "address2line",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}
