// Package render defines the document-renderer boundary. Rendering one output
// document from a template and a data row is an external collaborator concern;
// the pipeline only depends on the Renderer interface. A plain-text renderer
// is provided as the default wiring and for tests.
package render

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/model"
)

// Template is the analyzed template handed to the renderer.
type Template struct {
	// Name is the uploaded template's file name.
	Name string
	// Text is the template body with locatable {{ name }} markers.
	Text string
}

// Renderer produces one output document from a template and one data row.
// Implementations may fail independently per row; a failure is recorded on
// the row outcome and never aborts the batch.
type Renderer interface {
	Render(ctx context.Context, tmpl Template, row model.DataRow) ([]byte, error)
}

// Extension returns the artifact file extension for an output format.
func Extension(format model.OutputFormat) string {
	switch format {
	case model.OutputFormatPDF:
		return "pdf"
	case model.OutputFormatDocx:
		return "docx"
	default:
		return "docx"
	}
}

// ArtifactName builds the deterministic artifact name for a row, so that
// output numbering always matches input order.
func ArtifactName(rowNumber int, format model.OutputFormat) string {
	return fmt.Sprintf("row-%04d.%s", rowNumber, Extension(format))
}

// Module provides the default renderer.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewTextRenderer,
		fx.As(new(Renderer)),
	)),
)
