package datachangelog

import (
	"encoding/json"
	"time"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
)

// documentValue converts a snapshot value into its JSON document form
func documentValue(value interface{}) interface{} {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case versioning.ActionType:
		return string(v)
	default:
		return value
	}
}

// snapshotValue restores the typed value of a decoded document field. Masked values stay strings.
func snapshotValue(t versioning.FieldType, value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		switch t {
		case versioning.FieldInteger:
			if n, err := v.Int64(); err == nil {
				return n
			}
		case versioning.FieldJSON:
			return plainJSON(v)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case string:
		if t == versioning.FieldTimestamp {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return ts
			}
		}
		return v
	case map[string]interface{}, []interface{}:
		return plainJSON(v)
	default:
		return value
	}
}

// plainJSON replaces json.Number with float64 so JSON columns compare like the other backends
func plainJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = plainJSON(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = plainJSON(item)
		}
		return out
	default:
		return value
	}
}

// columnTypes collects the shadow column types of et, including inherited ones
func columnTypes(et *versioning.EntityType) map[string]versioning.FieldType {
	types := make(map[string]versioning.FieldType)
	for _, shadow := range et.Shadow().Chain() {
		for _, c := range shadow.Columns {
			types[c.Name] = c.Type
		}
	}
	return types
}
