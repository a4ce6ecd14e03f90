// Package template analyzes document templates for substitution placeholders.
// A placeholder is a {{ name }} marker; its name identifies a required field
// of every data row.
package template

import (
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches well-formed {{ ... }} markers. Malformed tokens
// (unbalanced or nested braces) simply never match and are ignored.
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// innerSpace collapses runs of whitespace inside a placeholder name.
var innerSpace = regexp.MustCompile(`\s+`)

// Normalize canonicalizes a field name: surrounding whitespace trimmed, inner
// whitespace collapsed, case folded. Extraction and row validation share this
// so that "{{ First Name }}" and a "first name" column line up.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	name = innerSpace.ReplaceAllString(name, " ")
	return strings.ToLower(name)
}

// Extract scans template text and returns the de-duplicated, normalized set
// of required field names in first-appearance order. It is deterministic and
// side-effect-free; zero placeholders yields an empty slice, never an error.
func Extract(templateText string) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(templateText, -1) {
		name := Normalize(m[1])
		if name == "" {
			continue // empty marker like {{   }} is malformed, skip it
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		fields = append(fields, name)
	}
	return fields
}

// Complexity is a coarse classification of a template by placeholder count,
// used for progress estimation only.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Classify buckets a template by its required-field count.
func Classify(fieldCount int) Complexity {
	switch {
	case fieldCount <= 5:
		return ComplexitySimple
	case fieldCount <= 20:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

// EstimateFactor returns the duration-estimate multiplier for a complexity
// class. Values are coarse by design.
func EstimateFactor(c Complexity) float64 {
	switch c {
	case ComplexityModerate:
		return 1.5
	case ComplexityComplex:
		return 2.5
	default:
		return 1.0
	}
}

// SortedFields returns a sorted copy of a field set, for stable logging.
func SortedFields(fields []string) []string {
	out := make([]string, len(fields))
	copy(out, fields)
	sort.Strings(out)
	return out
}
