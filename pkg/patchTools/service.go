package patchtools

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Data is one field assignment in its string form
type Data struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// FromMap renders values as Data sorted by field name. Nil values are skipped.
func FromMap(values map[string]interface{}) ([]Data, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Data, 0, len(values))
	for _, name := range names {
		v := values[name]
		if v == nil {
			continue
		}
		var raw string
		switch t := v.(type) {
		case string:
			raw = t
		case time.Time:
			raw = t.Format(time.RFC3339Nano)
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			raw = fmt.Sprint(t)
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("invalid value for field %s: %v", name, err)
			}
			raw = string(b)
		}
		out = append(out, Data{Field: name, Value: raw})
	}
	return out, nil
}

// PopulateStruct sets the fields of reg, a pointer to a struct, whose json tag matches a Data field.
// Unknown fields are skipped. Pointer fields are allocated.
func PopulateStruct(dataSlice []Data, reg interface{}) error {
	rv := reflect.ValueOf(reg)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("populate target must be a pointer to a struct, got %T", reg)
	}
	regVal := rv.Elem()
	regType := regVal.Type()

	// Precompute tag-to-field mapping
	tagFieldMap := make(map[string]int)
	for i := 0; i < regType.NumField(); i++ {
		jsonTag := strings.Split(regType.Field(i).Tag.Get("json"), ",")[0]
		if jsonTag != "" && jsonTag != "-" {
			tagFieldMap[jsonTag] = i
		}
	}

	for _, data := range dataSlice {
		fieldIndex, exists := tagFieldMap[data.Field]
		if !exists {
			continue
		}

		fieldVal := regVal.Field(fieldIndex)
		if !fieldVal.IsValid() || !fieldVal.CanSet() {
			continue
		}
		if fieldVal.Kind() == reflect.Ptr {
			val := reflect.New(fieldVal.Type().Elem())
			if err := setValue(val.Elem(), data); err != nil {
				return err
			}
			fieldVal.Set(val)
			continue
		}
		if err := setValue(fieldVal, data); err != nil {
			return err
		}
	}

	return nil
}

func setValue(val reflect.Value, data Data) error {
	switch val.Kind() {
	case reflect.String:
		val.SetString(data.Value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(data.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int value for field %s: %v", data.Field, err)
		}
		val.SetInt(intValue)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintValue, err := strconv.ParseUint(data.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid uint value for field %s: %v", data.Field, err)
		}
		val.SetUint(uintValue)

	case reflect.Float32, reflect.Float64:
		floatValue, err := strconv.ParseFloat(data.Value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for field %s: %v", data.Field, err)
		}
		val.SetFloat(floatValue)

	case reflect.Bool:
		boolValue, err := strconv.ParseBool(data.Value)
		if err != nil {
			return fmt.Errorf("invalid bool value for field %s: %v", data.Field, err)
		}
		val.SetBool(boolValue)

	case reflect.Struct:
		if val.Type() == reflect.TypeOf(time.Time{}) {
			timeValue, err := time.Parse(time.RFC3339Nano, data.Value)
			if err != nil {
				return fmt.Errorf("invalid time value for field %s: %v", data.Field, err)
			}
			val.Set(reflect.ValueOf(timeValue))
			return nil
		}
		return decodeJSON(val, data)

	case reflect.Map, reflect.Slice:
		return decodeJSON(val, data)

	case reflect.Interface:
		if err := decodeJSON(val, data); err != nil {
			val.Set(reflect.ValueOf(data.Value))
		}

	default:
		return fmt.Errorf("unsupported field type: %s", val.Kind())
	}
	return nil
}

func decodeJSON(val reflect.Value, data Data) error {
	target := reflect.New(val.Type())
	if err := json.Unmarshal([]byte(data.Value), target.Interface()); err != nil {
		return fmt.Errorf("invalid json value for field %s: %v", data.Field, err)
	}
	val.Set(target.Elem())
	return nil
}
