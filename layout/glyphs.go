package layout

// DefaultGlyphs approximates the glasses' built-in proportional font when no
// metrics file is supplied. Widths are in font units before spacing and the
// 2x renderer scale.
func DefaultGlyphs() *GlyphTable {
	widths := map[rune]int{' ': 2}
	for _, r := range "il.,:;!|'`" {
		widths[r] = 1
	}
	for _, r := range "fjrtI()[]{}\"" {
		widths[r] = 3
	}
	for _, r := range "mwMW@%" {
		widths[r] = 7
	}
	return &GlyphTable{Widths: widths, Default: 5, Spacing: 1, Scale: 2}
}
