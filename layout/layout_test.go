package layout

import (
	"reflect"
	"strings"
	"testing"
)

func TestWrap_Cases(t *testing.T) {
	mono := Wrapper{Oracle: Monospace{Advance: 1}}
	tests := []struct {
		name   string
		w      Wrapper
		text   string
		budget int
		want   []string
	}{
		{name: "empty", w: mono, text: "", budget: 10, want: []string{""}},
		{name: "lone space", w: mono, text: " ", budget: 10, want: []string{" "}},
		{name: "fits", w: mono, text: "hello", budget: 10, want: []string{"hello"}},
		{name: "break at earlier space", w: mono, text: "hello world foo", budget: 10, want: []string{"hello", "world foo"}},
		{name: "break exactly at space", w: mono, text: "hello world", budget: 5, want: []string{"hello", "world"}},
		{name: "hard break", w: mono, text: "abcdefghijklmnop", budget: 5, want: []string{"abcde", "fghij", "klmno", "p"}},
		{name: "explicit newlines", w: mono, text: "a\n\nb", budget: 10, want: []string{"a", "", "b"}},
		{name: "trailing newline dropped", w: mono, text: "a\n", budget: 10, want: []string{"a"}},
		{name: "only newline", w: mono, text: "\n", budget: 10, want: []string{""}},
		{name: "skips spaces after break", w: mono, text: "abcde     fgh", budget: 5, want: []string{"abcde", "fgh"}},
		{name: "glyph substitution", w: mono, text: "⬆ go ⟶ now", budget: 20, want: []string{"^ go - now"}},
		{
			name:   "short lookback accepts hard break",
			w:      Wrapper{Oracle: Monospace{Advance: 1}, Lookback: 3},
			text:   "a bcdefghij",
			budget: 8,
			want:   []string{"a bcdefg", "hij"},
		},
		{
			name:   "long lookback finds space",
			w:      mono,
			text:   "a bcdefghij",
			budget: 8,
			want:   []string{"a", "bcdefghi", "j"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.w.Wrap(tt.text, tt.budget)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Wrap(%q, %d) = %q, want %q", tt.text, tt.budget, got, tt.want)
			}
		})
	}
}

func TestWrap_WidthBound(t *testing.T) {
	glyphs := &GlyphTable{
		Widths:  map[rune]int{'i': 1, 'l': 1, 'm': 7, 'w': 7, ' ': 2},
		Default: 4,
		Spacing: 1,
		Scale:   2,
	}
	texts := []string{
		"The quick brown fox jumps over the lazy dog and keeps running far beyond the horizon",
		"mmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmmm wwwwwwwwwwwwwwwwwwwwwwwwwwwwwwwwwww",
		"illillillillillillillillillillillill illillill lilili",
		"line one\nline two is a little longer than the first\n\nline four",
		"Ünïcödé wörds wïth äccents çan be wräpped töö, évén whén lông",
		strings.Repeat("word ", 60),
	}
	budgets := []int{40, 100, 388}

	for _, budget := range budgets {
		w := Wrapper{Oracle: glyphs}
		for _, text := range texts {
			for _, line := range w.Wrap(text, budget) {
				if got := glyphs.Width(line); got > budget {
					t.Errorf("budget %d: line %q measures %d", budget, line, got)
				}
			}
		}
	}
}

func TestWrap_OversizedGlyph(t *testing.T) {
	oracle := WidthFunc(func(s string) int {
		total := 0
		for _, r := range s {
			if r == 'W' {
				total += 100
			} else {
				total++
			}
		}
		return total
	})
	got := Wrapper{Oracle: oracle}.Wrap("aWb", 10)
	want := []string{"a", "W", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Wrap = %q, want %q", got, want)
	}
}

func TestPaginate(t *testing.T) {
	lines := make([]string, 12)
	pages := Paginate(lines, 5)
	if len(pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(pages))
	}
	if len(pages[0]) != 5 || len(pages[1]) != 5 || len(pages[2]) != 2 {
		t.Errorf("Page sizes %d/%d/%d", len(pages[0]), len(pages[1]), len(pages[2]))
	}

	empty := Paginate(nil, 5)
	if len(empty) != 1 || len(empty[0]) != 0 {
		t.Errorf("Paginate(nil) = %q", empty)
	}
}

func TestLayout_FirstPage(t *testing.T) {
	l := New(Monospace{Advance: 10})
	if got := l.Budget(); got != 388 {
		t.Fatalf("Budget = %d, want 388", got)
	}

	text := strings.Repeat("abcdefghi ", 40)
	rendered := l.FirstPage(text)
	lines := strings.Split(strings.TrimSuffix(rendered, "\n"), "\n")
	if len(lines) != DefaultLinesPerPage {
		t.Fatalf("Expected %d rendered lines, got %d:\n%s", DefaultLinesPerPage, len(lines), rendered)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "     ") {
			t.Errorf("line %q missing margin", line)
		}
		if strings.HasPrefix(line, "      ") {
			t.Errorf("line %q has extra indentation", line)
		}
	}
	if !strings.HasSuffix(rendered, "\n") {
		t.Error("rendered page should end with a newline")
	}
}

func TestLayout_FirstPageEmpty(t *testing.T) {
	l := New(Monospace{Advance: 10})
	if got := l.FirstPage(""); got != "     \n" {
		t.Errorf("FirstPage(\"\") = %q", got)
	}
}

func TestGlyphTable_Width(t *testing.T) {
	g := &GlyphTable{Widths: map[rune]int{'a': 5}, Default: 3, Spacing: 1, Scale: 2}
	if got := g.Width("ab"); got != 20 {
		t.Errorf("Width(ab) = %d, want 20", got)
	}
	if got := g.Width(""); got != 0 {
		t.Errorf("Width(\"\") = %d", got)
	}
}

func TestLoadGlyphTable(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "yaml",
			doc: `
default_width: 6
glyphs:
  - {char: "a", width: 5}
  - {code: 8593, width: 7}
`,
		},
		{
			name: "json",
			doc:  `{"default_width": 6, "glyphs": [{"char": "a", "width": 5}, {"code": 8593, "width": 7}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := LoadGlyphTable(strings.NewReader(tt.doc))
			if err != nil {
				t.Fatalf("LoadGlyphTable failed: %v", err)
			}
			if g.Widths['a'] != 5 || g.Widths['↑'] != 7 {
				t.Errorf("Widths = %v", g.Widths)
			}
			if g.Spacing != 1 || g.Scale != 2 || g.Default != 6 {
				t.Errorf("Spacing=%d Scale=%d Default=%d", g.Spacing, g.Scale, g.Default)
			}
			// (5+1 + 6+1) * 2
			if got := g.Width("az"); got != 26 {
				t.Errorf("Width(az) = %d, want 26", got)
			}
		})
	}
}

func TestLoadGlyphTable_Invalid(t *testing.T) {
	if _, err := LoadGlyphTable(strings.NewReader("glyphs:\n  - {width: 3}\n")); err == nil {
		t.Error("Expected error for glyph without char or code")
	}
}

func TestLayout_Columns(t *testing.T) {
	l := Layout{Oracle: Monospace{Advance: 1}, DisplayWidth: 40, LinesPerPage: 2}
	got := l.Columns("ab", "cd")
	want := "ab" + strings.Repeat(" ", 20) + "cd\n" + strings.Repeat(" ", 22) + "\n"
	if got != want {
		t.Errorf("Columns =\n%q\nwant\n%q", got, want)
	}
}
