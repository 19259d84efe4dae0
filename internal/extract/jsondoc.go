package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// textFields is the priority order for choosing a JSON document's text
// representation.
var textFields = []string{
	"content", "body", "text", "snippet",
	"subject", "description", "summary", "transcript",
}

// extractJSON parses a JSON document. The text is the first non-empty
// string among the well-known text fields, falling back to the
// serialized form of the whole value. Object documents are also
// exposed as structured data for rule matching.
func extractJSON(data []byte) (*Result, error) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	res := &Result{}

	if obj, ok := parsed.(map[string]any); ok {
		res.Data = obj
		for _, field := range textFields {
			if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
				res.Text = s
				return res, nil
			}
		}
	}

	serialized, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("serialize json: %w", err)
	}
	res.Text = string(serialized)
	return res, nil
}
