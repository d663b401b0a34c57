package layout

import "strings"

// Display geometry of the glasses
const (
	DefaultDisplayWidth = 488
	DefaultMarginSpaces = 5
	DefaultLinesPerPage = 5
)

// Layout turns host text into the rendered page bytes the glasses display
type Layout struct {
	Oracle       WidthOracle
	DisplayWidth int
	MarginSpaces int
	LinesPerPage int
	Lookback     int
}

// New creates a layout with the default display geometry
func New(oracle WidthOracle) Layout {
	return Layout{
		Oracle:       oracle,
		DisplayWidth: DefaultDisplayWidth,
		MarginSpaces: DefaultMarginSpaces,
		LinesPerPage: DefaultLinesPerPage,
		Lookback:     DefaultLookback,
	}
}

func (l Layout) linesPerPage() int {
	if l.LinesPerPage <= 0 {
		return DefaultLinesPerPage
	}
	return l.LinesPerPage
}

// Budget is the pixel width left for text once both margins are removed
func (l Layout) Budget() int {
	margin := l.MarginSpaces * l.Oracle.Width(" ")
	return l.DisplayWidth - 2*margin
}

// Wrap breaks text against the layout's budget
func (l Layout) Wrap(text string) []string {
	return Wrapper{Oracle: l.Oracle, Lookback: l.Lookback}.Wrap(text, l.Budget())
}

// Pages wraps text and groups the lines into pages
func (l Layout) Pages(text string) [][]string {
	return Paginate(l.Wrap(text), l.linesPerPage())
}

// FirstPage renders only the first page of text; later pages are never
// transmitted.
func (l Layout) FirstPage(text string) string {
	pages := l.Pages(text)
	return Render(pages[0], l.MarginSpaces)
}

// Paginate groups lines into pages of perPage lines. It always returns at
// least one page.
func Paginate(lines []string, perPage int) [][]string {
	if perPage <= 0 {
		perPage = DefaultLinesPerPage
	}
	if len(lines) == 0 {
		return [][]string{{}}
	}
	pages := make([][]string, 0, (len(lines)+perPage-1)/perPage)
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

// Render indents each line by margin spaces and newline-terminates it
func Render(lines []string, margin int) string {
	indent := strings.Repeat(" ", margin)
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(indent)
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
