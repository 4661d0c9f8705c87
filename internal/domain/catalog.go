package domain

import "fmt"

type RelationKind string

const (
	RelationHasOne     RelationKind = "has_one"
	RelationBelongsTo  RelationKind = "belongs_to"
	RelationHasMany    RelationKind = "has_many"
	RelationManyToMany RelationKind = "many_to_many"
)

type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeText      FieldType = "text"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeDate      FieldType = "date"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
)

// Catalog is the declarative entity metadata the store is built from.
type Catalog struct {
	Entities []EntitySchema `json:"entities" yaml:"entities"`
}

func (c *Catalog) Entity(name string) (*EntitySchema, error) {
	for i := range c.Entities {
		if c.Entities[i].Name == name {
			return &c.Entities[i], nil
		}
	}
	return nil, fmt.Errorf("entity not found: %s", name)
}

type EntitySchema struct {
	Name       string         `json:"name" yaml:"name"`
	Table      string         `json:"table,omitempty" yaml:"table,omitempty"`
	Fields     []FieldMeta    `json:"fields" yaml:"fields"`
	UniqueKeys []string       `json:"unique_keys,omitempty" yaml:"unique_keys,omitempty"`
	Relations  []RelationMeta `json:"relations,omitempty" yaml:"relations,omitempty"`
}

func (e *EntitySchema) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return e.Name
}

func (e *EntitySchema) Field(name string) (FieldMeta, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMeta{}, false
}

func (e *EntitySchema) Relation(name string) (RelationMeta, bool) {
	for _, r := range e.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationMeta{}, false
}

type FieldMeta struct {
	Name      string    `json:"name" yaml:"name"`
	Type      FieldType `json:"type" yaml:"type"`
	MaxLength int       `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

// RelationMeta describes one relation of an entity. ForeignKey lives on the related
// table for has_one and has_many and on the owner for belongs_to.
type RelationMeta struct {
	Name            string       `json:"name" yaml:"name"`
	Kind            RelationKind `json:"kind" yaml:"kind"`
	Related         string       `json:"related" yaml:"related"`
	ForeignKey      string       `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`
	PivotTable      string       `json:"pivot_table,omitempty" yaml:"pivot_table,omitempty"`
	PivotLocalKey   string       `json:"pivot_local_key,omitempty" yaml:"pivot_local_key,omitempty"`
	PivotRelatedKey string       `json:"pivot_related_key,omitempty" yaml:"pivot_related_key,omitempty"`
	PivotFields     []string     `json:"pivot_fields,omitempty" yaml:"pivot_fields,omitempty"`
}

func (k RelationKind) Valid() bool {
	switch k {
	case RelationHasOne, RelationBelongsTo, RelationHasMany, RelationManyToMany:
		return true
	default:
		return false
	}
}

func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeText, FieldTypeInt, FieldTypeFloat, FieldTypeBool,
		FieldTypeDate, FieldTypeTimestamp, FieldTypeJSON:
		return true
	default:
		return false
	}
}

// ForeignKeyFor returns the configured foreign key or the conventional one: "<owner>_id"
// on the related table for has_one/has_many, "<relation>_id" on the owner for belongs_to.
func (r RelationMeta) ForeignKeyFor(owner string) string {
	if r.ForeignKey != "" {
		return r.ForeignKey
	}
	if r.Kind == RelationBelongsTo {
		return r.Name + "_id"
	}
	return owner + "_id"
}

// Pivot returns the many-to-many link table and its two key columns.
func (r RelationMeta) Pivot(owner string) (table, localKey, relatedKey string) {
	table, localKey, relatedKey = r.PivotTable, r.PivotLocalKey, r.PivotRelatedKey
	if table == "" {
		table = owner + "_" + r.Name
	}
	if localKey == "" {
		localKey = owner + "_id"
	}
	if relatedKey == "" {
		relatedKey = r.Related + "_id"
		if relatedKey == localKey {
			relatedKey = "related_" + relatedKey
		}
	}
	return table, localKey, relatedKey
}
