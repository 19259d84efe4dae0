package rules

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// Attributes builds the per-file view that rules match against. Paths
// are forward-slash normalized; timestamps are ISO-8601. The view is
// constructed on demand and never persisted.
func Attributes(path string, info fs.FileInfo, frontmatter, data map[string]any) map[string]any {
	slash := strings.ReplaceAll(filepath.ToSlash(path), `\`, "/")

	attrs := map[string]any{
		"path": slash,
		"dir":  dirOf(slash),
		"name": filepath.Base(slash),
		"ext":  strings.ToLower(filepath.Ext(slash)),
	}
	if info != nil {
		attrs["size"] = info.Size()
		attrs["modified"] = info.ModTime().UTC().Format(time.RFC3339)
	}
	if frontmatter != nil {
		attrs["frontmatter"] = frontmatter
	}
	if data != nil {
		attrs["data"] = data
	}
	return attrs
}

func dirOf(slash string) string {
	idx := strings.LastIndexByte(slash, '/')
	if idx < 0 {
		return "."
	}
	if idx == 0 {
		return "/"
	}
	return slash[:idx]
}

// lookupPath walks a dotted path through nested string-keyed maps.
func lookupPath(root any, dotted string) (any, bool) {
	current := root
	for _, part := range strings.Split(dotted, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
