package hashing

import (
	"testing"

	"github.com/mmrzaf/etlflow/internal/domain"
)

func sampleFlow() *domain.Flow {
	san := domain.DefaultSanitizerConfig()
	return &domain.Flow{
		ID:              "import-users",
		Name:            "import-users",
		SourceConfig:    domain.SourceConfig{Path: "users.csv"},
		SanitizerConfig: &san,
		Mapping: domain.InlineMapping(&domain.MappingDefinition{
			Name: "users",
			Mappings: []domain.EntityMapping{
				{Model: "users", ExecutionOrder: 1, Columns: []domain.ColumnMapping{
					{Source: "email", Target: "email", Transforms: []string{"trim", "lowercase"}, ValidationRule: "required|email"},
					{Source: "role", Target: "role", Default: map[string]interface{}{"b": 1, "a": []interface{}{"x"}}},
				}},
			},
		}),
		Options: domain.DefaultFlowOptions(),
	}
}

func TestHashFlow_IgnoresSourcePathButNotMapping(t *testing.T) {
	f1 := sampleFlow()
	h1, err := HashFlow(f1)
	if err != nil {
		t.Fatal(err)
	}

	f2 := sampleFlow()
	f2.SourceConfig.Path = "other.csv"
	f2.Description = "same flow, other file"
	h2, err := HashFlow(f2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected source path and description not to affect hash")
	}

	f3 := sampleFlow()
	f3.Mapping.Definition.Mappings[0].Columns[0].Transforms = []string{"trim"}
	h3, err := HashFlow(f3)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Fatal("expected transforms to affect hash")
	}

	f4 := sampleFlow()
	f4.Options.ErrorPolicy = domain.ErrorPolicyStop
	h4, err := HashFlow(f4)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h4 {
		t.Fatal("expected error policy to affect hash")
	}
}

func TestHashRunConfig_IncludesStoreAndDryRun(t *testing.T) {
	fh, err := HashFlow(sampleFlow())
	if err != nil {
		t.Fatal(err)
	}

	h1, err := HashRunConfig(fh, "sqlite", "data/app.db", false)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashRunConfig(fh, "postgres", "data/app.db", false)
	if err != nil {
		t.Fatal(err)
	}
	h3, err := HashRunConfig(fh, "sqlite", "data/app.db", true)
	if err != nil {
		t.Fatal(err)
	}
	h4, err := HashRunConfig(fh, "sqlite", "data/app.db", false)
	if err != nil {
		t.Fatal(err)
	}

	if h1 == h2 {
		t.Fatal("expected store kind to affect hash")
	}
	if h1 == h3 {
		t.Fatal("expected dry run to affect hash")
	}
	if h1 != h4 {
		t.Fatal("expected identical config to hash identically")
	}
}
