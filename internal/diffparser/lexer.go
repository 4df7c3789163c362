// Package diffparser turns raw multi-file patch text into per-file parse
// records. Lexing and parsing are pure functions of the patch text and an
// externally supplied file-boundary list; they perform no I/O and are safe
// to run in parallel across independent file spans.
package diffparser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dmarchant/patchvault/internal/domain/model"
)

// FileBoundary is one entry of the external "list changed files" pass over
// the patch: the 1-based line number where a file's diff begins, plus the
// file label reported for it. Boundaries must be strictly increasing.
type FileBoundary struct {
	Line  int
	Label string
}

// BinaryMarker holds the four captured groups of a vendor binary-file
// header block: depot path, revision, action code, and local path.
type BinaryMarker struct {
	DepotPath string
	Revision  string
	Action    string
	LocalPath string
}

// Span is one contiguous line range of the patch covering a single file.
// Line numbers are 1-based and inclusive. Binary is non-nil for spans
// synthesized from a vendor binary-file marker; such spans carry no hunk
// text of their own.
type Span struct {
	BeginLine int
	EndLine   int
	Label     string
	Binary    *BinaryMarker
}

// binaryHeaderPattern matches the vendor-specific binary file header, e.g.
// "==== //depot/foo/bar.png#3 ==A== foo/bar.png ====". The following line
// must be a "Binary files ..." marker for the block to count.
var binaryHeaderPattern = regexp.MustCompile(`^==== ([^#]+)#(\d+) ==([A-Z]+)== (.*) ====$`)

// Lex partitions patch text into per-file spans using the boundary list.
// Every line from the first boundary through end-of-text lands in exactly
// one span. For each boundary it additionally scans backward for vendor
// binary-marker blocks naming files the boundary list omitted, and
// synthesizes extra spans for them.
func Lex(text string, boundaries []FileBoundary) ([]Span, error) {
	if len(boundaries) == 0 {
		return nil, &model.MalformedPatchError{Reason: "empty file boundary list"}
	}

	lines := SplitLines(text)

	prev := 0
	for _, b := range boundaries {
		if b.Line <= prev {
			return nil, &model.MalformedPatchError{
				Reason: fmt.Sprintf("file boundaries are not strictly increasing (%d after %d)", b.Line, prev),
				Line:   b.Line,
			}
		}
		if b.Line > len(lines) {
			return nil, &model.MalformedPatchError{
				Reason: fmt.Sprintf("file boundary %q points past end of patch", b.Label),
				Line:   b.Line,
			}
		}
		prev = b.Line
	}

	spans := make([]Span, 0, len(boundaries))
	for i, b := range boundaries {
		end := len(lines)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].Line - 1
		}

		// Binary-only files produce no hunks, so the external pass omits
		// them; their marker blocks sit in the lines just before the next
		// boundary. Pull them out into their own spans and shrink the
		// previous span so coverage stays exact.
		markers := binaryMarkersBefore(lines, b.Line)
		for _, m := range markers {
			if coveredByBoundaries(boundaries, m.marker) {
				continue
			}
			if n := len(spans); n > 0 && spans[n-1].Binary == nil && spans[n-1].EndLine >= m.headerLine {
				spans[n-1].EndLine = m.headerLine - 1
			}
			spans = append(spans, Span{
				BeginLine: m.headerLine,
				EndLine:   m.headerLine + 1,
				Label:     m.marker.LocalPath,
				Binary:    m.marker,
			})
		}

		if err := checkRevisionHeader(lines, b); err != nil {
			return nil, err
		}

		spans = append(spans, Span{BeginLine: b.Line, EndLine: end, Label: b.Label})
	}

	return spans, nil
}

// SplitLines splits patch text on newlines without dropping a final
// unterminated line. The result is indexed 0-based; line n of the patch is
// element n-1.
func SplitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// checkRevisionHeader verifies the two lines at a boundary form one of the
// recognized revision-header pairs: "--- / +++" (unified) or "*** / ---"
// (context).
func checkRevisionHeader(lines []string, b FileBoundary) error {
	if b.Line >= len(lines) {
		return &model.MalformedPatchError{
			Reason: fmt.Sprintf("file %q is truncated before its second header line", b.Label),
			Line:   b.Line,
		}
	}

	h1 := lines[b.Line-1]
	h2 := lines[b.Line]

	unified := strings.HasPrefix(h1, "--- ") && strings.HasPrefix(h2, "+++ ")
	context := strings.HasPrefix(h1, "*** ") && strings.HasPrefix(h2, "--- ")
	if !unified && !context {
		return &model.MalformedPatchError{
			Reason: fmt.Sprintf("file %q does not start with a recognized revision header", b.Label),
			Line:   b.Line,
		}
	}

	return nil
}

type markerAt struct {
	marker     *BinaryMarker
	headerLine int // 1-based line of the "==== ... ====" header.
}

// binaryMarkersBefore scans backward from the given boundary line for
// vendor binary-marker blocks (header line plus "Binary files ..." line).
// Consecutive blocks are all collected; the result is in textual order.
func binaryMarkersBefore(lines []string, begin int) []markerAt {
	var found []markerAt

	p := begin
	for p >= 3 {
		header := lines[p-3]
		marker := lines[p-2]

		mm := binaryHeaderPattern.FindStringSubmatch(header)
		if mm == nil || !strings.HasPrefix(marker, "Binary files ") {
			break
		}

		found = append(found, markerAt{
			marker: &BinaryMarker{
				DepotPath: mm[1],
				Revision:  mm[2],
				Action:    mm[3],
				LocalPath: mm[4],
			},
			headerLine: p - 2,
		})
		p -= 2
	}

	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}

	return found
}

// coveredByBoundaries reports whether the marker names a file the boundary
// list already covers under either its depot or local path.
func coveredByBoundaries(boundaries []FileBoundary, m *BinaryMarker) bool {
	for _, b := range boundaries {
		if b.Label == m.LocalPath || b.Label == m.DepotPath {
			return true
		}
	}
	return false
}
