package layout

import "strings"

// DefaultLookback is how many runes Wrap walks back looking for a space
// before accepting a hard break.
const DefaultLookback = 20

// Symbols the glasses' font cannot draw are replaced before measurement.
var glyphSubstitutions = strings.NewReplacer(
	"⬆", "^",
	"⟶", "-",
)

// Wrapper breaks text into lines no wider than a pixel budget
type Wrapper struct {
	Oracle   WidthOracle
	Lookback int
}

// Wrap splits text into lines whose measured width fits budget. Explicit
// newlines always break; an empty segment between two newlines yields an
// empty line, while trailing newlines are ignored. A single glyph wider
// than the budget is still emitted on its own line.
func (w Wrapper) Wrap(text string, budget int) []string {
	text = glyphSubstitutions.Replace(text)
	if text == "" || text == " " {
		return []string{text}
	}

	segments := strings.Split(text, "\n")
	for len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return []string{""}
	}

	var lines []string
	for _, seg := range segments {
		if seg == "" {
			lines = append(lines, "")
			continue
		}
		lines = w.wrapSegment(lines, []rune(seg), budget)
	}
	return lines
}

func (w Wrapper) lookback() int {
	if w.Lookback <= 0 {
		return DefaultLookback
	}
	return w.Lookback
}

func (w Wrapper) width(r []rune) int {
	return w.Oracle.Width(string(r))
}

func (w Wrapper) wrapSegment(lines []string, seg []rune, budget int) []string {
	n := len(seg)
	start := 0
	for start < n {
		if w.width(seg[start:]) <= budget {
			lines = append(lines, string(seg[start:]))
			break
		}

		// Longest prefix of seg[start:] that fits; at least one rune so the
		// loop always advances.
		best := start + 1
		lo, hi := start+1, n
		for lo <= hi {
			mid := lo + (hi-lo)/2
			if w.width(seg[start:mid]) <= budget {
				best = mid
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}

		split := best
		if best < n && seg[best] != ' ' {
			floor := best - w.lookback()
			if floor < start {
				floor = start
			}
			for i := best; i > floor; i-- {
				if seg[i-1] == ' ' {
					split = i
					break
				}
			}
		}

		lines = append(lines, strings.TrimSpace(string(seg[start:split])))

		for split < n && seg[split] == ' ' {
			split++
		}
		start = split
	}
	return lines
}
