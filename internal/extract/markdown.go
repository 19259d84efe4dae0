package extract

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// extractMarkdown splits optional YAML frontmatter from the body.
//
// Frontmatter only counts when the document begins with a "---" line
// and a closing "---" line exists, and the YAML between them parses to
// a mapping. Scalars and arrays are not frontmatter; neither is a lone
// "---" somewhere inside the body.
func extractMarkdown(data []byte) (*Result, error) {
	content := string(data)

	fm, body := splitFrontmatter(content)
	if fm == "" {
		return &Result{Text: content}, nil
	}

	var parsed any
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		// Malformed frontmatter: treat the whole input as body.
		return &Result{Text: content}, nil
	}

	mapping, ok := toStringMap(parsed)
	if !ok {
		return &Result{Text: content}, nil
	}

	return &Result{Text: body, Frontmatter: mapping}, nil
}

// splitFrontmatter returns the YAML block and the remaining body, or
// ("", "") when the document has no frontmatter fence.
func splitFrontmatter(content string) (yamlBlock, body string) {
	// Normalize line handling without copying the whole document.
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") && content != "---" {
		return "", ""
	}

	// Skip the opening fence line.
	idx := strings.IndexByte(content, '\n')
	if idx < 0 {
		return "", ""
	}
	rest := content[idx+1:]

	// Find the closing fence on its own line.
	lines := strings.Split(rest, "\n")
	for i, line := range lines {
		if strings.TrimRight(line, "\r") == "---" {
			yamlBlock = strings.Join(lines[:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			return yamlBlock, body
		}
	}
	return "", ""
}

// toStringMap converts YAML mapping results to map[string]any.
// Returns false for non-mapping values.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = normalizeYAML(val)
		}
		return out, true
	default:
		return nil, false
	}
}

// normalizeYAML rewrites nested map[any]any values into map[string]any
// so frontmatter round-trips through encoding/json.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[any]any:
		if m, ok := toStringMap(val); ok {
			return m
		}
		return val
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeYAML(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeYAML(inner)
		}
		return val
	default:
		return val
	}
}
