package diffparser

import (
	"strings"

	"github.com/dmarchant/patchvault/internal/domain/model"
)

// CountLines derives insert/delete/equal/replace line statistics from a
// hunk body. A line starting with '+' (but not "+++") is an insert, '-'
// (but not "---") a delete, and a single leading space an equal line.
// Replaces is derived, not scanned: min(inserts, deletes) when a delete and
// insert appear adjacent anywhere in the hunk, a deliberate approximation
// of line replacement. Binary content always yields all-zero counts.
func CountLines(raw []byte, isBinary bool) model.LineCounts {
	if isBinary || len(raw) == 0 {
		return model.LineCounts{}
	}

	var c model.LineCounts
	adjacent := false
	var prev byte

	for _, line := range SplitLines(string(raw)) {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			prev = 0
		case strings.HasPrefix(line, "+"):
			c.Inserts++
			if prev == '-' {
				adjacent = true
			}
			prev = '+'
		case strings.HasPrefix(line, "-"):
			c.Deletes++
			if prev == '+' {
				adjacent = true
			}
			prev = '-'
		case strings.HasPrefix(line, " "):
			c.Equals++
			prev = ' '
		default:
			prev = 0
		}
	}

	if adjacent {
		c.Replaces = min(c.Inserts, c.Deletes)
	}

	return c
}
