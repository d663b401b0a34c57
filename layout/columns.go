package layout

import "strings"

const maxColumnPadding = 100

// Columns renders two texts side by side on one page. The left column gets
// half the display, the right column starts at 55% of it. Each side is
// wrapped independently and padded to exactly one page of lines. En
// spaces are dropped before alignment.
func (l Layout) Columns(left, right string) string {
	leftWidth := l.DisplayWidth / 2
	rightStart := l.DisplayWidth * 55 / 100
	w := Wrapper{Oracle: l.Oracle, Lookback: l.Lookback}

	n := l.linesPerPage()
	leftLines := fitLines(w.Wrap(left, leftWidth), n)
	rightLines := fitLines(w.Wrap(right, l.DisplayWidth-rightStart), n)

	spaceWidth := l.Oracle.Width(" ")
	var sb strings.Builder
	for i := 0; i < n; i++ {
		lt := strings.ReplaceAll(leftLines[i], "\u2002", "")
		rt := strings.ReplaceAll(rightLines[i], "\u2002", "")
		sb.WriteString(lt)
		sb.WriteString(strings.Repeat(" ", paddingSpaces(l.Oracle.Width(lt), rightStart, spaceWidth)))
		sb.WriteString(rt)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func fitLines(lines []string, n int) []string {
	for len(lines) < n {
		lines = append(lines, "")
	}
	return lines[:n]
}

// paddingSpaces is the number of spaces that moves the cursor from
// current to target pixels, at least one and at most maxColumnPadding.
func paddingSpaces(current, target, spaceWidth int) int {
	need := target - current
	if need <= 0 || spaceWidth <= 0 {
		return 1
	}
	spaces := (need + spaceWidth - 1) / spaceWidth
	if spaces > maxColumnPadding {
		spaces = maxColumnPadding
	}
	return spaces
}
