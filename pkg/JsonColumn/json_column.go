package jsoncolumn

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JsonColumn stores T as a json/jsonb column. A nil V maps to SQL NULL.
type JsonColumn[T any] struct {
	V *T
}

// Of wraps v for use as a query argument
func Of[T any](v T) JsonColumn[T] {
	return JsonColumn[T]{V: &v}
}

func (j *JsonColumn[T]) Scan(src any) error {
	var raw []byte
	switch s := src.(type) {
	case nil:
		j.V = nil
		return nil
	case []byte:
		raw = s
	case string:
		raw = []byte(s)
	default:
		return fmt.Errorf("jsoncolumn: cannot scan %T", src)
	}

	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("jsoncolumn: %w", err)
	}
	j.V = v
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	return json.Marshal(j.V)
}

func (j *JsonColumn[T]) Get() *T {
	return j.V
}
