package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/mmrzaf/etlflow/internal/domain"
)

// HashFlow fingerprints everything that changes what a flow imports. The flow ID,
// description and source path are left out so the same flow over different files
// hashes equally.
func HashFlow(flow *domain.Flow) (string, error) {
	canonical := canonicalizeFlow(flow)
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func canonicalizeFlow(flow *domain.Flow) map[string]interface{} {
	result := map[string]interface{}{
		"name": flow.Name,
		"options": map[string]interface{}{
			"chunk_size":           flow.Options.ChunkSize,
			"error_policy":         flow.Options.ErrorPolicy,
			"skip_empty_rows":      flow.Options.SkipEmptyRows,
			"truncate_long_fields": flow.Options.TruncateLongFields,
		},
	}
	if flow.SourceConfig.Type != "" {
		result["source_type"] = flow.SourceConfig.Type
	}
	if flow.SanitizerConfig != nil {
		result["sanitizer"] = *flow.SanitizerConfig
	}
	if flow.FormatConfig != nil {
		result["format"] = *flow.FormatConfig
	}
	if def := flow.Mapping.Definition; def != nil {
		result["mapping"] = canonicalizeMapping(def)
	} else if flow.Mapping.Path != "" {
		result["mapping_path"] = flow.Mapping.Path
	}
	return result
}

func canonicalizeMapping(def *domain.MappingDefinition) map[string]interface{} {
	ordered := def.Ordered()
	mappings := make([]map[string]interface{}, len(ordered))
	for i, m := range ordered {
		columns := make([]map[string]interface{}, len(m.Columns))
		for j, col := range m.Columns {
			colMap := map[string]interface{}{
				"source": col.Source,
				"target": col.Target,
			}
			if len(col.Transforms) > 0 {
				colMap["transforms"] = col.Transforms
			}
			if col.Default != nil {
				colMap["default"] = canonicalizeValue(col.Default)
			}
			if col.ValidationRule != "" {
				colMap["validation_rule"] = col.ValidationRule
			}
			if col.RelationLookup != nil {
				colMap["relation_lookup"] = *col.RelationLookup
			}
			columns[j] = colMap
		}

		entry := map[string]interface{}{
			"model":           m.Model,
			"execution_order": m.ExecutionOrder,
			"type":            m.Kind(),
			"columns":         columns,
			"unique_key":      m.Options.UniqueKey,
			"duplicates":      m.Options.Duplicates(),
		}
		if m.RelationPath != "" {
			entry["relation_path"] = m.RelationPath
		}
		if m.Options.SyncMode != "" {
			entry["sync_mode"] = m.Options.SyncMode
		}
		if len(m.Options.RelationStrategies) > 0 {
			entry["relation_strategies"] = m.Options.RelationStrategies
		}
		mappings[i] = entry
	}
	return map[string]interface{}{
		"name":     def.Name,
		"mappings": mappings,
	}
}

// canonicalizeValue turns YAML-decoded maps into string-keyed maps json can encode.
func canonicalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(val))
		for _, k := range keys {
			out[k] = canonicalizeValue(val[k])
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[toKey(k)] = canonicalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = canonicalizeValue(item)
		}
		return out
	default:
		return val
	}
}

func toKey(k interface{}) string {
	b, err := json.Marshal(k)
	if err != nil {
		return ""
	}
	var s string
	if json.Unmarshal(b, &s) == nil {
		return s
	}
	return string(b)
}
