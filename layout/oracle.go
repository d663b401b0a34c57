package layout

import (
	"fmt"
	"io"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// WidthOracle measures the rendered pixel width of a string
type WidthOracle interface {
	Width(s string) int
}

// WidthFunc adapts a function to WidthOracle
type WidthFunc func(s string) int

func (f WidthFunc) Width(s string) int { return f(s) }

// Monospace gives every rune the same advance
type Monospace struct {
	Advance int
}

func (m Monospace) Width(s string) int {
	return utf8.RuneCountInString(s) * m.Advance
}

// GlyphTable measures text from per-rune glyph widths. Each glyph
// contributes (width + Spacing) * Scale pixels.
type GlyphTable struct {
	Widths  map[rune]int
	Default int
	Spacing int
	Scale   int
}

func (g *GlyphTable) Width(s string) int {
	scale := g.Scale
	if scale <= 0 {
		scale = 1
	}
	total := 0
	for _, r := range s {
		w, ok := g.Widths[r]
		if !ok {
			w = g.Default
		}
		total += w + g.Spacing
	}
	return total * scale
}

type glyphFile struct {
	DefaultWidth int  `yaml:"default_width"`
	Spacing      *int `yaml:"spacing"`
	Scale        int  `yaml:"scale"`
	Glyphs       []struct {
		Char  string `yaml:"char"`
		Code  *int   `yaml:"code"`
		Width int    `yaml:"width"`
	} `yaml:"glyphs"`
}

// LoadGlyphTable reads a font metrics file. The document is YAML (or JSON,
// which YAML accepts):
//
//	default_width: 6
//	spacing: 1
//	scale: 2
//	glyphs:
//	  - {char: "a", width: 5}
//	  - {code: 8593, width: 7}
//
// Spacing defaults to 1 and scale to 2, matching the glasses' renderer.
func LoadGlyphTable(r io.Reader) (*GlyphTable, error) {
	var f glyphFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("layout: decode glyph table: %w", err)
	}
	g := &GlyphTable{
		Widths:  make(map[rune]int, len(f.Glyphs)),
		Default: f.DefaultWidth,
		Spacing: 1,
		Scale:   f.Scale,
	}
	if f.Spacing != nil {
		g.Spacing = *f.Spacing
	}
	if g.Scale <= 0 {
		g.Scale = 2
	}
	for i, glyph := range f.Glyphs {
		switch {
		case glyph.Code != nil:
			g.Widths[rune(*glyph.Code)] = glyph.Width
		case glyph.Char != "":
			r, _ := utf8.DecodeRuneInString(glyph.Char)
			g.Widths[r] = glyph.Width
		default:
			return nil, fmt.Errorf("layout: glyph %d has neither char nor code", i)
		}
	}
	return g, nil
}
