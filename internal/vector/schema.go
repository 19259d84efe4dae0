package vector

import "errors"

// schemaSampleSize bounds how many points are sampled when the
// collection carries no indexed payload schema.
const schemaSampleSize = 100

// errSampleDone stops a scroll once enough samples are collected.
var errSampleDone = errors.New("sample complete")

// inferSchema derives a field → type mapping from sampled payloads.
// Types: integer, float, bool, keyword, text (strings longer than
// 256), keyword-array. A keyword field is promoted to text if any
// sample exceeds the length cutoff; other conflicts keep the first
// observed type.
func inferSchema(samples []map[string]any) map[string]string {
	schema := map[string]string{}

	for _, payload := range samples {
		for field, value := range payload {
			t := inferType(value)
			if t == "" {
				continue
			}
			prev, seen := schema[field]
			if !seen {
				schema[field] = t
				continue
			}
			if prev == "keyword" && t == "text" {
				schema[field] = "text"
			}
		}
	}
	return schema
}

func inferType(value any) string {
	switch v := value.(type) {
	case bool:
		return "bool"
	case int, int32, int64, uint64:
		return "integer"
	case float32:
		return "float"
	case float64:
		// JSON round-trips integers as float64.
		if v == float64(int64(v)) {
			return "integer"
		}
		return "float"
	case string:
		if len(v) > 256 {
			return "text"
		}
		return "keyword"
	case []any:
		return "keyword-array"
	default:
		return ""
	}
}
