// Package rules compiles declarative inference rules and evaluates
// them against file attributes to produce inferred metadata.
//
// A rule has a JSON-Schema match condition (extended with a custom
// string-level "glob" keyword), a set of template assignments, and an
// optional transform. Rules are evaluated in declaration order; later
// rules win on key conflicts, and a rule's transform output wins over
// its own set output.
package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/karmaniverous/jeeves-watcher/internal/errors"
)

// Rule is an inference rule as declared in configuration.
type Rule struct {
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Match     map[string]any `json:"match" yaml:"match"`
	Set       map[string]any `json:"set,omitempty" yaml:"set,omitempty"`
	Transform any            `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// globConstraint is a glob keyword lifted out of a match schema,
// recorded against the dotted attribute path it was declared under.
type globConstraint struct {
	path    string
	pattern string
}

// CompiledRule pairs a rule with its compiled matcher.
type CompiledRule struct {
	Rule     Rule
	resolved *jsonschema.Resolved
	globs    []globConstraint
}

// Matches reports whether the file attributes satisfy the rule's
// match schema and all of its glob constraints. Like other string-level
// keywords, glob is vacuously true for an absent or non-string
// attribute; presence is the "required" keyword's job and stays in the
// stripped schema.
func (c *CompiledRule) Matches(attrs map[string]any) bool {
	if c.resolved != nil {
		if err := c.resolved.Validate(attrs); err != nil {
			return false
		}
	}
	for _, g := range c.globs {
		v, ok := lookupPath(attrs, g.path)
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		matched, err := doublestar.Match(g.pattern, s)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// Engine holds a compiled rule set plus the shared named-transform
// table. Engines are immutable; reload builds a new one.
type Engine struct {
	rules []CompiledRule
	maps  map[string]any
	log   *slog.Logger
}

// Compile validates and compiles every rule. Any schema error is
// fatal: the caller surfaces it as a configuration error.
func Compile(rules []Rule, maps map[string]any, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	compiled := make([]CompiledRule, 0, len(rules))
	for i, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			return nil, errors.New(errors.ErrCodeRuleSchema,
				fmt.Sprintf("rule %d (%s): %v", i, ruleLabel(rule, i), err), err)
		}
		compiled = append(compiled, c)
	}

	return &Engine{rules: compiled, maps: maps, log: log}, nil
}

// Rules returns the compiled rules in declaration order.
func (e *Engine) Rules() []CompiledRule {
	return e.rules
}

// Apply evaluates every rule against the attributes and returns the
// merged inferred metadata. Transform failures are logged and skipped;
// they never fail evaluation.
func (e *Engine) Apply(attrs map[string]any) map[string]any {
	merged := map[string]any{}

	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Matches(attrs) {
			continue
		}

		for key, value := range rule.Rule.Set {
			merged[key] = resolveTemplate(value, attrs)
		}

		if rule.Rule.Transform == nil {
			continue
		}
		out, ok := e.runTransform(rule, attrs)
		if !ok {
			continue
		}
		for key, value := range out {
			merged[key] = value
		}
	}

	return merged
}

// runTransform resolves a named or inline transform and executes it.
// A missing name or a runtime failure yields a warning, not an error.
func (e *Engine) runTransform(rule *CompiledRule, attrs map[string]any) (map[string]any, bool) {
	def := rule.Rule.Transform
	if name, ok := def.(string); ok {
		named, found := e.maps[name]
		if !found {
			e.log.Warn("named transform not found, skipping",
				"transform", name, "rule", ruleLabel(rule.Rule, -1))
			return nil, false
		}
		def = named
	}

	result, err := evalTransform(def, attrs)
	if err != nil {
		e.log.Warn("transform failed, skipping",
			"rule", ruleLabel(rule.Rule, -1), "error", err)
		return nil, false
	}

	out, ok := result.(map[string]any)
	if !ok {
		e.log.Warn("transform produced a non-mapping result, discarding",
			"rule", ruleLabel(rule.Rule, -1))
		return nil, false
	}
	return out, true
}

func compileRule(rule Rule) (CompiledRule, error) {
	c := CompiledRule{Rule: rule}
	if rule.Match == nil {
		return c, nil
	}

	stripped, globs := liftGlobs(rule.Match, "")
	c.globs = globs

	raw, err := json.Marshal(stripped)
	if err != nil {
		return c, fmt.Errorf("encode match schema: %w", err)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return c, fmt.Errorf("parse match schema: %w", err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return c, fmt.Errorf("resolve match schema: %w", err)
	}
	c.resolved = resolved
	return c, nil
}

// liftGlobs walks a raw schema map, removes every string-level "glob"
// keyword, and records it against the dotted property path it sits
// under. The remainder is a standard JSON-Schema document.
func liftGlobs(schema map[string]any, path string) (map[string]any, []globConstraint) {
	var globs []globConstraint
	out := make(map[string]any, len(schema))

	for key, value := range schema {
		if key == "glob" {
			// The root instance is never a string, so a top-level
			// glob has nothing to match; drop it either way.
			if pattern, ok := value.(string); ok {
				if path != "" {
					globs = append(globs, globConstraint{path: path, pattern: pattern})
				}
				continue
			}
		}

		if key == "properties" {
			if props, ok := value.(map[string]any); ok {
				newProps := make(map[string]any, len(props))
				for name, sub := range props {
					subSchema, ok := sub.(map[string]any)
					if !ok {
						newProps[name] = sub
						continue
					}
					childPath := name
					if path != "" {
						childPath = path + "." + name
					}
					strippedSub, subGlobs := liftGlobs(subSchema, childPath)
					newProps[name] = strippedSub
					globs = append(globs, subGlobs...)
				}
				out[key] = newProps
				continue
			}
		}

		if sub, ok := value.(map[string]any); ok {
			strippedSub, subGlobs := liftGlobs(sub, path)
			out[key] = strippedSub
			globs = append(globs, subGlobs...)
			continue
		}

		// Applicator keywords with schema lists: anyOf, allOf, oneOf,
		// and list-form items.
		if list, ok := value.([]any); ok {
			newList := make([]any, len(list))
			for i, item := range list {
				sub, ok := item.(map[string]any)
				if !ok {
					newList[i] = item
					continue
				}
				strippedSub, subGlobs := liftGlobs(sub, path)
				newList[i] = strippedSub
				globs = append(globs, subGlobs...)
			}
			out[key] = newList
			continue
		}

		out[key] = value
	}

	return out, globs
}

func ruleLabel(rule Rule, index int) string {
	if rule.Name != "" {
		return rule.Name
	}
	if index >= 0 {
		return fmt.Sprintf("#%d", index)
	}
	return "(unnamed)"
}
