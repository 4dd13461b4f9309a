package versioning

import (
	"fmt"
	"time"

	patchtools "github.com/jecitDev/jec-go-versioning/pkg/patchTools"
)

// FieldType is the storage type of a versioned field
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldText      FieldType = "text"
	FieldInteger   FieldType = "integer"
	FieldFloat     FieldType = "float"
	FieldBoolean   FieldType = "boolean"
	FieldTimestamp FieldType = "timestamp"
	FieldJSON      FieldType = "json"
)

// Inheritance describes how a subtype is stored relative to its supertype
type Inheritance string

const (
	// InheritSingle stores subtype columns in the supertype table
	InheritSingle Inheritance = "single"
	// InheritJoined stores subtype columns in their own table keyed by the supertype identity
	InheritJoined Inheritance = "joined"
)

// ConstraintKind enumerates table constraints that can be declared on a live table
type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintForeignKey ConstraintKind = "foreign_key"
)

// Metadata field names added to every shadow table
const (
	MetaVersion    = "version"
	MetaChangedAt  = "changed_at"
	MetaActor      = "actor"
	MetaActionType = "action_type"
)

var metadataFields = []string{MetaVersion, MetaChangedAt, MetaActor, MetaActionType}

// TypeColumn holds the concrete entity type name on the root live table and the root shadow table
const TypeColumn = "entity_type"

// IsMetadataField reports whether name is reserved for versioning metadata
func IsMetadataField(name string) bool {
	for _, m := range metadataFields {
		if m == name {
			return true
		}
	}
	return false
}

// Field describes one column of a live entity table
type Field struct {
	Name          string    `yaml:"name" json:"name" validate:"required,sqlident"`
	Type          FieldType `yaml:"type" json:"type" validate:"required,oneof=string text integer float boolean timestamp json"`
	Nullable      bool      `yaml:"nullable" json:"nullable"`
	Unique        bool      `yaml:"unique" json:"unique"`
	Default       string    `yaml:"default" json:"default,omitempty"` // SQL default expression
	AutoIncrement bool      `yaml:"auto_increment" json:"auto_increment"`
	References    string    `yaml:"references" json:"references,omitempty"` // "table.column"
}

// Constraint is a table level constraint of the live table
type Constraint struct {
	Name       string         `yaml:"name" json:"name" validate:"required,sqlident"`
	Kind       ConstraintKind `yaml:"kind" json:"kind" validate:"required,oneof=unique check foreign_key"`
	Columns    []string       `yaml:"columns" json:"columns"`
	Expression string         `yaml:"expression" json:"expression,omitempty"`
}

// Relation links an entity to another entity type.
// LocalColumn names the foreign key column on this entity; collection relations leave it empty.
type Relation struct {
	Name        string `yaml:"name" json:"name" validate:"required,sqlident"`
	Target      string `yaml:"target" json:"target" validate:"required"`
	LocalColumn string `yaml:"local_column" json:"local_column,omitempty" validate:"omitempty,sqlident"`
}

// EntitySchema is the declarative description of an entity type consumed by SchemaMirror
type EntitySchema struct {
	Name        string       `yaml:"name" json:"name" validate:"required,sqlident"`
	Table       string       `yaml:"table" json:"table" validate:"omitempty,sqlident"`
	PrimaryKey  string       `yaml:"primary_key" json:"primary_key" validate:"omitempty,sqlident"`
	Fields      []Field      `yaml:"fields" json:"fields" validate:"dive"`
	Constraints []Constraint `yaml:"constraints" json:"constraints" validate:"dive"`
	Relations   []Relation   `yaml:"relations" json:"relations" validate:"dive"`
	Inherits    string       `yaml:"inherits" json:"inherits,omitempty" validate:"omitempty,sqlident"`
	Inheritance Inheritance  `yaml:"inheritance" json:"inheritance,omitempty" validate:"omitempty,oneof=single joined"`
}

// ShadowColumn is one column of a shadow table
type ShadowColumn struct {
	Name     string
	Type     FieldType
	Nullable bool
	Metadata bool
}

// ShadowSchema is the history table derived from a live table.
// Single-table subtypes share the shadow of their supertype.
type ShadowSchema struct {
	Table       string
	SourceTable string
	PrimaryKey  string
	Columns     []ShadowColumn
	// Parent is set for joined subtypes; (pk, version) references Parent's (pk, version)
	Parent *ShadowSchema
}

// Column returns the named column
func (s *ShadowSchema) Column(name string) (ShadowColumn, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ShadowColumn{}, false
}

// DomainColumns returns the cloned entity columns, excluding the primary key and metadata
func (s *ShadowSchema) DomainColumns() []ShadowColumn {
	var cols []ShadowColumn
	for _, c := range s.Columns {
		if c.Metadata || c.Name == s.PrimaryKey {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// Chain returns the shadow tables a record is spread over, root first
func (s *ShadowSchema) Chain() []*ShadowSchema {
	if s.Parent == nil {
		return []*ShadowSchema{s}
	}
	return append(s.Parent.Chain(), s)
}

// ActionType describes what produced a history record
type ActionType string

const (
	ActionCreated ActionType = "created"
	ActionUpdated ActionType = "updated"
	ActionDeleted ActionType = "deleted"
	ActionUnknown ActionType = "unknown"
)

// HistoryRecord is an immutable snapshot of an entity at one version
type HistoryRecord struct {
	Entity     string                 `json:"entity"`
	EntityID   int64                  `json:"entity_id"`
	Version    int64                  `json:"version"`
	ChangedAt  time.Time              `json:"changed_at"`
	Actor      string                 `json:"actor"`
	ActionType ActionType             `json:"action_type"`
	Values     map[string]interface{} `json:"values"`
}

// Value returns the snapshot value of a domain field
func (r HistoryRecord) Value(field string) (interface{}, bool) {
	v, ok := r.Values[field]
	return v, ok
}

// Decode copies the snapshot values into dst, a pointer to a struct whose json tags name the fields
func (r HistoryRecord) Decode(dst interface{}) error {
	data, err := patchtools.FromMap(r.Values)
	if err != nil {
		return fmt.Errorf("failed to decode %s %d version %d: %w", r.Entity, r.EntityID, r.Version, err)
	}
	if err := patchtools.PopulateStruct(data, dst); err != nil {
		return fmt.Errorf("failed to decode %s %d version %d: %w", r.Entity, r.EntityID, r.Version, err)
	}
	return nil
}
