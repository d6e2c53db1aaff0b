package diagram

import (
	"fmt"
	"strings"
)

// Format names an output format.
type Format string

const (
	FormatASCII   Format = "ascii"
	FormatMermaid Format = "mermaid"
	FormatOutline Format = "outline"
	FormatPNG     Format = "png"
	FormatSVG     Format = "svg"
)

// ParseFormat resolves a format name. Empty selects ASCII.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatASCII, nil
	case FormatASCII, FormatMermaid, FormatOutline, FormatPNG, FormatSVG:
		return f, nil
	default:
		return "", fmt.Errorf("diagram: unknown format %q", name)
	}
}

// Binary reports whether the format produces image bytes rather than text.
func (f Format) Binary() bool { return f == FormatPNG }

// ContentType is the MIME type of a rendered format.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Render renders model in the given format.
func Render(model *Model, f Format) ([]byte, error) {
	switch f {
	case FormatASCII, "":
		return []byte(RenderASCII(model)), nil
	case FormatMermaid:
		return []byte(RenderMermaid(model)), nil
	case FormatOutline:
		return []byte(RenderOutline(model)), nil
	case FormatPNG:
		return RenderImage(model)
	case FormatSVG:
		return RenderSVG(model)
	default:
		return nil, fmt.Errorf("diagram: unknown format %q", f)
	}
}
