package flows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
)

const usersMappingYAML = `name: users
mappings:
  - model: users
    execution_order: 1
    columns:
      - source: email
        target: email
        transforms: [trim, lowercase]
        validation_rule: required|email
    options:
      unique_key: [email]
`

const usersFlowYAML = `name: import-users
source_config:
  path: users.csv
sanitizer_config:
  enabled: true
  remove_bom: true
mapping: users.yaml
options:
  chunk_size: 50
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGetByPath_RejectsPathTraversal(t *testing.T) {
	base := t.TempDir()
	mappings := t.TempDir()
	repo := NewFileRepository(base, mappings)

	writeFile(t, mappings, "users.yaml", usersMappingYAML)
	writeFile(t, base, "ok.yaml", usersFlowYAML)
	if _, err := repo.GetByPath("ok.yaml"); err != nil {
		t.Fatalf("expected flow load inside base dir, got %v", err)
	}

	outsideFile := writeFile(t, t.TempDir(), "outside.yaml", "name: bad")
	if _, err := repo.GetByPath(outsideFile); err == nil {
		t.Fatal("expected traversal rejection for outside absolute path")
	}
	if _, err := repo.GetByPath("../outside.yaml"); err == nil {
		t.Fatal("expected traversal rejection for relative path escape")
	}
	if _, err := repo.Mapping("../../etc/passwd"); err == nil {
		t.Fatal("expected traversal rejection for mapping reference")
	}
}

func TestLoadFlowResolvesMappingAndDefaults(t *testing.T) {
	flowsDir := t.TempDir()
	mappingsDir := t.TempDir()
	writeFile(t, mappingsDir, "users.yaml", usersMappingYAML)
	writeFile(t, flowsDir, "import-users.yaml", usersFlowYAML)
	writeFile(t, flowsDir, "broken.json", "{not json")
	writeFile(t, flowsDir, "notes.txt", "ignored")

	repo := NewFileRepository(flowsDir, mappingsDir)
	flows, err := repo.List()
	require.NoError(t, err)
	require.Len(t, flows, 1)

	flow, err := repo.Get("import-users")
	require.NoError(t, err)
	assert.Equal(t, "import-users", flow.ID)
	assert.Equal(t, 50, flow.Options.ChunkSize)
	assert.Equal(t, domain.ErrorPolicyContinue, flow.Options.ErrorPolicy)
	require.NotNil(t, flow.Mapping.Definition)
	assert.Equal(t, "users", flow.Mapping.Definition.Name)
	assert.Equal(t, []string{"trim", "lowercase"}, flow.Mapping.Definition.Mappings[0].Columns[0].Transforms)
	assert.Empty(t, flow.Validate())

	_, err = repo.Get("missing")
	assert.EqualError(t, err, "flow not found: missing")
}

func TestMappingByNameAndInlineJSON(t *testing.T) {
	mappingsDir := t.TempDir()
	writeFile(t, mappingsDir, "people.yml", usersMappingYAML)
	repo := NewFileRepository(t.TempDir(), mappingsDir)

	def, err := repo.Mapping("people")
	require.NoError(t, err)
	assert.Equal(t, "users", def.Name)

	def, err = repo.Mapping("users")
	require.NoError(t, err)
	assert.Equal(t, "users", def.Name)

	_, err = repo.Mapping("nobody")
	assert.EqualError(t, err, "mapping not found: nobody")

	dir := t.TempDir()
	path := writeFile(t, dir, "inline.json", `{
		"name": "inline",
		"source_config": {"path": "in.csv"},
		"sanitizer_config": {"enabled": false},
		"mapping": {"name": "m", "mappings": [{"model": "users", "columns": [{"source": "a", "target": "email"}]}]},
		"options": {"chunk_size": 10, "error_policy": "stop"}
	}`)
	flow, err := LoadFlowFile(path)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorPolicyStop, flow.Options.ErrorPolicy)
	assert.True(t, flow.Options.SkipEmptyRows)
	assert.Equal(t, "m", flow.Mapping.Definition.Name)
}

func TestLoadFlowFileRelativeMapping(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "users.yaml", usersMappingYAML)
	path := writeFile(t, dir, "flow.yaml", usersFlowYAML)

	flow, err := LoadFlowFile(path)
	require.NoError(t, err)
	assert.Equal(t, "users", flow.Mapping.Definition.Name)

	writeFile(t, dir, "dangling.yaml", "name: x\nmapping: nowhere.yaml\n")
	_, err = LoadFlowFile(filepath.Join(dir, "dangling.yaml"))
	require.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.yaml", `entities:
  - name: users
    fields:
      - {name: email, type: string, max_length: 120}
    unique_keys: [email]
    relations:
      - {name: roles, kind: many_to_many, related: roles}
  - name: roles
    fields:
      - {name: name, type: string}
`)
	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	users, err := cat.Entity("users")
	require.NoError(t, err)
	f, ok := users.Field("email")
	require.True(t, ok)
	assert.Equal(t, 120, f.MaxLength)
	rel, ok := users.Relation("roles")
	require.True(t, ok)
	assert.Equal(t, domain.RelationManyToMany, rel.Kind)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
