package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/civicwatch/disruption-ingest/internal/domain"
)

// ServerTimestamp marks a field whose value is assigned by the store at
// write time instead of taken from the caller.
type ServerTimestamp struct{}

// ServerTime is the sentinel FieldNormalizer substitutes for timestamp
// fields. Repositories replace it with the clock's current time on write.
var ServerTime = ServerTimestamp{}

// FieldNormalizer decides, per field, how a value is stored. The policy:
//
//   - timestamps in general are replaced with ServerTime so every write
//     carries the store's own time, except timespanStart and timespanEnd,
//     which keep the literal value extracted from the announcement
//   - categories are coerced to a native category list, accepting a list,
//     a JSON array string, or a comma-separated string
//   - pins, streets, bus stops, cadastral properties, ingest errors, and
//     the responsible entity stay native so they remain queryable
//   - any other object or array is serialized to a JSON text blob
//   - nil and primitive values pass through unchanged
type FieldNormalizer struct{}

// nativeFields stay structured in the record rather than being flattened
// to a blob. Keys are canonical names, see canonicalField.
var nativeFields = map[string]bool{
	"pins":                true,
	"streets":             true,
	"busstops":            true,
	"cadastralproperties": true,
	"ingesterrors":        true,
	"responsibleentity":   true,
}

var literalTimeFields = map[string]bool{
	"timespanstart": true,
	"timespanend":   true,
}

// canonicalField folds camelCase and snake_case spellings to one key.
func canonicalField(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// Normalize applies the storage policy to every field and returns a new
// map. The input map is not modified.
func (FieldNormalizer) Normalize(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		normalized, err := normalizeField(name, value)
		if err != nil {
			return nil, fmt.Errorf("normalize field %q: %w", name, err)
		}
		out[name] = normalized
	}
	return out, nil
}

func normalizeField(name string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	canonical := canonicalField(name)

	switch v := value.(type) {
	case time.Time:
		if literalTimeFields[canonical] {
			return v, nil
		}
		return ServerTime, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		if literalTimeFields[canonical] {
			return *v, nil
		}
		return ServerTime, nil
	case ServerTimestamp:
		return v, nil
	}

	if canonical == "categories" {
		return domain.ParseCategoryList(value), nil
	}
	if nativeFields[canonical] {
		return value, nil
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		blob, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, err
		}
		return string(blob), nil
	default:
		return value, nil
	}
}
