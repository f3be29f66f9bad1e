package diagram

import (
	"context"

	"github.com/rendis/credlogic/pkg/schema"
)

// Format names a diagram output.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
	FormatSVG     Format = "svg"
)

// Formats lists every supported diagram format.
var Formats = []Format{FormatMermaid, FormatASCII, FormatSVG}

// Valid reports whether f is a known diagram format.
func (f Format) Valid() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// Render draws model in format. SVG output is the document text.
func Render(ctx context.Context, model *DiagramModel, format Format) (string, error) {
	switch format {
	case FormatMermaid:
		return RenderMermaid(model), nil
	case FormatASCII:
		return RenderASCII(model), nil
	case FormatSVG:
		svg, err := RenderSVG(ctx, model)
		if err != nil {
			return "", err
		}
		return string(svg), nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown diagram format %q", format)
	}
}
