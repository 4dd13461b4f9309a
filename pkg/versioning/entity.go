package versioning

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Row is a set of column values keyed by column name
type Row map[string]interface{}

type entityState int

const (
	stateNew entityState = iota
	statePersistent
	stateDeleted
)

// linkState is the relation-level history of one relation within a session
type linkState struct {
	targets []*Entity
	cleared bool
}

// Entity is an instance of a registered entity type tracked by a Session.
// The version counter is owned by the VersionStore and cannot be set by callers.
type Entity struct {
	typ           *EntityType
	id            int64
	version       int64
	loadedVersion int64
	loaded        Row
	current       Row
	assigned      map[string]bool
	links         map[string]*linkState
	state         entityState
	deleting      bool

	saved *entityCheckpoint
}

type entityCheckpoint struct {
	id       int64
	version  int64
	current  Row
	assigned map[string]bool
}

func newEntity(typ *EntityType) *Entity {
	return &Entity{
		typ:      typ,
		current:  make(Row),
		assigned: make(map[string]bool),
		links:    make(map[string]*linkState),
	}
}

// Type returns the entity type name
func (e *Entity) Type() string { return e.typ.Name() }

// ID returns the storage assigned identity, zero until the entity is inserted
func (e *Entity) ID() int64 { return e.id }

// Version returns the number of history records committed for the entity
func (e *Entity) Version() int64 { return e.version }

// IsNew reports whether the entity has not been inserted yet
func (e *Entity) IsNew() bool { return e.state == stateNew }

// IsDeleted reports whether the entity has been deleted in a committed session
func (e *Entity) IsDeleted() bool { return e.state == stateDeleted }

// Get returns the current value of a field. Foreign key columns reflect pending links.
func (e *Entity) Get(field string) interface{} {
	if field == e.typ.PrimaryKey() && e.id != 0 {
		return e.id
	}
	for _, rel := range e.typ.Relations() {
		if rel.LocalColumn != field {
			continue
		}
		if ls, ok := e.links[rel.Name]; ok {
			if ls.cleared {
				return nil
			}
			if n := len(ls.targets); n > 0 && ls.targets[n-1].id != 0 {
				return ls.targets[n-1].id
			}
		}
	}
	return cloneValue(e.current[field])
}

// Values returns a copy of the current field values
func (e *Entity) Values() Row {
	out := make(Row, len(e.typ.Fields()))
	for _, f := range e.typ.Fields() {
		if v := e.Get(f.Name); v != nil {
			out[f.Name] = v
		} else if _, ok := e.current[f.Name]; ok {
			out[f.Name] = nil
		}
	}
	return out
}

// Set assigns a field value
func (e *Entity) Set(field string, value interface{}) error {
	if e.state == stateDeleted || e.deleting {
		return fmt.Errorf("failed to set %s.%s: %w", e.Type(), field, ErrEntityDeleted)
	}
	f, ok := e.typ.Field(field)
	if !ok {
		return fmt.Errorf("failed to set %s.%s: %w", e.Type(), field, ErrUnknownField)
	}
	if field == e.typ.PrimaryKey() && e.state != stateNew {
		return fmt.Errorf("failed to set %s.%s: primary key is immutable: %w", e.Type(), field, ErrInvalidValue)
	}
	normalized, err := normalizeValue(f, value)
	if err != nil {
		return fmt.Errorf("failed to set %s.%s: %w", e.Type(), field, err)
	}
	e.current[field] = normalized
	e.assigned[field] = true
	return nil
}

// Link points a relation at target. For foreign key relations the previous target is replaced and a nil
// target clears the link; collection relations accumulate targets.
func (e *Entity) Link(relation string, target *Entity) error {
	if e.state == stateDeleted || e.deleting {
		return fmt.Errorf("failed to link %s.%s: %w", e.Type(), relation, ErrEntityDeleted)
	}
	rel, ok := e.typ.Relation(relation)
	if !ok {
		return fmt.Errorf("failed to link %s.%s: %w", e.Type(), relation, ErrUnknownField)
	}
	if target != nil && !target.typ.isA(rel.Target) {
		return fmt.Errorf("failed to link %s.%s to %s: %w", e.Type(), relation, target.Type(), ErrInvalidValue)
	}

	ls, ok := e.links[relation]
	if !ok {
		ls = &linkState{}
		e.links[relation] = ls
	}
	if rel.LocalColumn == "" {
		if target != nil {
			ls.targets = append(ls.targets, target)
		}
		return nil
	}
	if target == nil {
		f, _ := e.typ.Field(rel.LocalColumn)
		if !f.Nullable {
			return fmt.Errorf("failed to clear %s.%s: column %s is not nullable: %w", e.Type(), relation, rel.LocalColumn, ErrInvalidValue)
		}
		ls.targets = nil
		ls.cleared = true
		return nil
	}
	ls.targets = []*Entity{target}
	ls.cleared = false
	return nil
}

func (e *Entity) isDirty() bool {
	return len(e.assigned) > 0 || len(e.links) > 0
}

func (e *Entity) checkpoint() {
	cp := &entityCheckpoint{
		id:       e.id,
		version:  e.version,
		current:  make(Row, len(e.current)),
		assigned: make(map[string]bool, len(e.assigned)),
	}
	for k, v := range e.current {
		cp.current[k] = cloneValue(v)
	}
	for k, v := range e.assigned {
		cp.assigned[k] = v
	}
	e.saved = cp
}

func (e *Entity) restore() {
	if e.saved == nil {
		return
	}
	e.id = e.saved.id
	e.version = e.saved.version
	e.current = e.saved.current
	e.assigned = e.saved.assigned
	e.saved = nil
}

// syncLinks copies resolved link targets into their foreign key columns
func (e *Entity) syncLinks() error {
	for _, rel := range e.typ.Relations() {
		if rel.LocalColumn == "" {
			continue
		}
		ls, ok := e.links[rel.Name]
		if !ok {
			continue
		}
		if ls.cleared {
			e.current[rel.LocalColumn] = nil
			e.assigned[rel.LocalColumn] = true
			continue
		}
		target := ls.targets[len(ls.targets)-1]
		if target.id == 0 {
			return fmt.Errorf("failed to link %s.%s: target %s has no identity yet: %w", e.Type(), rel.Name, target.Type(), ErrNotPersisted)
		}
		e.current[rel.LocalColumn] = target.id
		e.assigned[rel.LocalColumn] = true
	}
	return nil
}

// markCommitted folds the session's changes into the loaded state
func (e *Entity) markCommitted() {
	e.saved = nil
	if e.deleting {
		e.state = stateDeleted
		e.deleting = false
		return
	}
	e.state = statePersistent
	e.loaded = cloneRow(e.current)
	e.loadedVersion = e.version
	e.assigned = make(map[string]bool)
	e.links = make(map[string]*linkState)
}

func (t *EntityType) isA(name string) bool {
	for cur := t; cur != nil; cur = cur.parent {
		if cur.Name() == name {
			return true
		}
	}
	return false
}

// normalizeValue checks value against the field type and converts it to the canonical Go type
func normalizeValue(f Field, value interface{}) (interface{}, error) {
	if value == nil {
		if f.Nullable || f.AutoIncrement || f.Default != "" {
			return nil, nil
		}
		return nil, fmt.Errorf("field %s is not nullable: %w", f.Name, ErrInvalidValue)
	}

	switch f.Type {
	case FieldString, FieldText:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case FieldInteger:
		if n, ok := toInt64(value); ok {
			return n, nil
		}
	case FieldFloat:
		if n, ok := toFloat64(value); ok {
			return n, nil
		}
	case FieldBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case FieldTimestamp:
		if t, ok := value.(time.Time); ok {
			return t.UTC(), nil
		}
	case FieldJSON:
		if v, err := plainJSON(value); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("field %s expects %s, got %T: %w", f.Name, f.Type, value, ErrInvalidValue)
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if n, ok := toInt64(value); ok {
		return float64(n), true
	}
	return 0, false
}

// plainJSON returns an independent copy of value built from maps, slices, strings, float64, bool and nil,
// the same shape a jsonb column decodes to
func plainJSON(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cloneValue deep copies the map and slice values json fields hold; other values are immutable
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}

func cloneRow(row Row) Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = cloneValue(v)
	}
	return out
}
