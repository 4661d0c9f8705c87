package transforms

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Alias is a named pipeline, e.g. {name: clean_email, transforms: [trim, lower]}.
type Alias struct {
	Name       string   `yaml:"name" json:"name"`
	Transforms []string `yaml:"transforms" json:"transforms"`
}

// LoadAliases reads a YAML list of aliases and registers each as a pipeline. Aliases may
// reference aliases declared earlier in the same file.
func LoadAliases(path string, r *Registry) ([]Alias, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transforms file: %w", err)
	}
	var aliases []Alias
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("failed to parse transforms file %s: %w", path, err)
	}
	for _, a := range aliases {
		if err := r.RegisterPipeline(a.Name, a.Transforms); err != nil {
			return nil, fmt.Errorf("transforms file %s: %w", path, err)
		}
	}
	return aliases, nil
}
