package versioning

import (
	"bytes"
	"reflect"
	"sort"
	"time"
)

// FieldDiff represents a change in a single field
type FieldDiff struct {
	FieldName string      `json:"field_name"`
	FieldType string      `json:"field_type"` // string, integer, number, boolean, timestamp, etc.
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
}

// ChangeSet maps field names to their differences between two consecutive records
type ChangeSet map[string]FieldDiff

// Fields returns the changed field names in sorted order
func (cs ChangeSet) Fields() []string {
	names := make([]string, 0, len(cs))
	for name := range cs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats summarizes the change set
func (cs ChangeSet) Stats() DiffStats {
	stats := DiffStats{TotalFields: len(cs)}
	for _, diff := range cs {
		switch {
		case diff.OldValue == nil && diff.NewValue != nil:
			stats.AddedFields++
		case diff.OldValue != nil && diff.NewValue == nil:
			stats.RemovedFields++
		default:
			stats.ChangedFields++
		}
	}
	return stats
}

// DiffStats represents statistics about field differences
type DiffStats struct {
	TotalFields   int
	ChangedFields int
	AddedFields   int
	RemovedFields int
}

// HasSignificantChanges returns true if there are meaningful changes
func (ds DiffStats) HasSignificantChanges() bool {
	return ds.AddedFields > 0 || ds.ChangedFields > 0 || ds.RemovedFields > 0
}

// DeltaEngine computes field level differences between history records
type DeltaEngine struct{}

// NewDeltaEngine creates a new DeltaEngine instance
func NewDeltaEngine() *DeltaEngine {
	return &DeltaEngine{}
}

// Diff compares the domain fields present in both records and returns those whose values differ.
// It has no side effects.
func (d *DeltaEngine) Diff(older, newer HistoryRecord) ChangeSet {
	cs := make(ChangeSet)
	for name, newValue := range newer.Values {
		if IsMetadataField(name) {
			continue
		}
		oldValue, shared := older.Values[name]
		if !shared {
			continue
		}
		if d.ValuesEqual(oldValue, newValue) {
			continue
		}
		fieldType := d.fieldType(newValue)
		if newValue == nil {
			fieldType = d.fieldType(oldValue)
		}
		cs[name] = FieldDiff{
			FieldName: name,
			FieldType: fieldType,
			OldValue:  oldValue,
			NewValue:  newValue,
		}
	}
	return cs
}

// ValuesEqual compares by value: numbers across integer and float kinds, times by instant,
// byte slices by content and everything else deeply
func (d *DeltaEngine) ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return ai == bi
		}
	}
	if af, ok := toFloat64(a); ok {
		if bf, ok := toFloat64(b); ok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

// fieldType returns a string representation of the field's type
func (d *DeltaEngine) fieldType(value interface{}) string {
	if value == nil {
		return "null"
	}

	switch v := value.(type) {
	case bool:
		return "boolean"
	case float64:
		if v == float64(int64(v)) {
			return "integer"
		}
		return "number"
	case float32:
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case string:
		return "string"
	case time.Time:
		return "timestamp"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return reflect.TypeOf(value).String()
	}
}
