package domain

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// MappingReference is either an inline mapping definition or a path to a mapping file.
// Files hold the path form until the flow repository resolves it.
type MappingReference struct {
	Path       string
	Definition *MappingDefinition
}

func InlineMapping(def *MappingDefinition) MappingReference {
	return MappingReference{Definition: def}
}

func (m MappingReference) MarshalJSON() ([]byte, error) {
	if m.Definition != nil {
		return json.Marshal(m.Definition)
	}
	return json.Marshal(m.Path)
}

func (m *MappingReference) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		m.Path = path
		m.Definition = nil
		return nil
	}
	var def MappingDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return fmt.Errorf("mapping must be a path or an object: %w", err)
	}
	m.Definition = &def
	return nil
}

func (m MappingReference) MarshalYAML() (interface{}, error) {
	if m.Definition != nil {
		return m.Definition, nil
	}
	return m.Path, nil
}

func (m *MappingReference) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		m.Path = node.Value
		m.Definition = nil
		return nil
	case yaml.MappingNode:
		var def MappingDefinition
		if err := node.Decode(&def); err != nil {
			return err
		}
		m.Definition = &def
		return nil
	default:
		return fmt.Errorf("line %d: mapping must be a path or an object", node.Line)
	}
}
