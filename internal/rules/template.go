package rules

import (
	"encoding/json"
	"regexp"
)

var templateRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveTemplate substitutes every ${dotted.path} occurrence in a
// string value with the attribute reached by that path. String
// attributes substitute directly; other values insert their JSON
// form; missing or null attributes become the empty string.
// Non-string values pass through unchanged.
func resolveTemplate(value any, attrs map[string]any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}

	return templateRef.ReplaceAllStringFunc(s, func(match string) string {
		dotted := templateRef.FindStringSubmatch(match)[1]
		v, found := lookupPath(attrs, dotted)
		if !found || v == nil {
			return ""
		}
		if str, ok := v.(string); ok {
			return str
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	})
}
