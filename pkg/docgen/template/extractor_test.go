package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docmint/docmint/pkg/docgen/template"
)

func TestExtract_NormalizesAndDeduplicates(t *testing.T) {
	text := "Dear {{ Name }}, your order {{ORDER_ID}} ships to {{ name }} at {{ Shipping   Address }}."

	fields := template.Extract(text)

	assert.Equal(t, []string{"name", "order_id", "shipping address"}, fields)
}

func TestExtract_PreservesFirstAppearanceOrder(t *testing.T) {
	text := "{{b}} {{a}} {{c}} {{a}} {{b}}"

	fields := template.Extract(text)

	assert.Equal(t, []string{"b", "a", "c"}, fields)
}

func TestExtract_IgnoresMalformedAndEmptyMarkers(t *testing.T) {
	assert.Empty(t, template.Extract("no markers here"))
	assert.Empty(t, template.Extract("{{}} {{   }}"))
	// An unclosed marker is plain text, not a placeholder.
	assert.Empty(t, template.Extract("{{name"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "first name", template.Normalize("  First   Name  "))
	assert.Equal(t, "email", template.Normalize("EMAIL"))
	assert.Equal(t, "", template.Normalize("   "))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, template.ComplexitySimple, template.Classify(0))
	assert.Equal(t, template.ComplexitySimple, template.Classify(5))
	assert.Equal(t, template.ComplexityModerate, template.Classify(6))
	assert.Equal(t, template.ComplexityModerate, template.Classify(20))
	assert.Equal(t, template.ComplexityComplex, template.Classify(21))
}

func TestEstimateFactor(t *testing.T) {
	assert.Equal(t, 1.0, template.EstimateFactor(template.ComplexitySimple))
	assert.Equal(t, 1.5, template.EstimateFactor(template.ComplexityModerate))
	assert.Equal(t, 2.5, template.EstimateFactor(template.ComplexityComplex))
}
