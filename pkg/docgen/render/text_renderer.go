package render

import (
	"context"
	"fmt"
	"regexp"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/template"
)

var markerPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// TextRenderer substitutes placeholder markers with row values and returns
// the result as document bytes. Binary format conversion (pdf/docx) lives
// behind the Renderer boundary in production deployments.
type TextRenderer struct{}

// NewTextRenderer creates the default renderer.
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{}
}

// Render substitutes every well-formed marker. Rows reach the renderer
// pre-validated, so a missing field here indicates the row mutated after
// validation and fails the row, not the batch.
func (r *TextRenderer) Render(ctx context.Context, tmpl Template, row model.DataRow) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, exception.New("render", "render cancelled", err, false)
	}

	var missing string
	out := markerPattern.ReplaceAllStringFunc(tmpl.Text, func(marker string) string {
		name := template.Normalize(markerPattern.FindStringSubmatch(marker)[1])
		if name == "" {
			return marker // malformed marker passes through untouched
		}
		v, ok := row[name]
		if !ok || v == nil {
			missing = name
			return marker
		}
		return fmt.Sprintf("%v", v)
	})
	if missing != "" {
		return nil, exception.New("render", "field "+missing+" missing at render time", exception.ErrRowRender, false)
	}
	return []byte(out), nil
}

var _ Renderer = (*TextRenderer)(nil)
