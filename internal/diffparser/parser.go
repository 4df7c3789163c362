package diffparser

import (
	"bytes"
	"strings"

	"github.com/dmarchant/patchvault/internal/domain/model"
)

// Parse lexes the patch text against the boundary list and parses every
// span, returning ParsedFileDiffs in source order. It is a pure function of
// its two inputs: parsing the same patch twice yields structurally
// identical results.
func Parse(text string, boundaries []FileBoundary) ([]model.ParsedFileDiff, error) {
	spans, err := Lex(text, boundaries)
	if err != nil {
		return nil, err
	}

	lines := SplitLines(text)
	parsed := make([]model.ParsedFileDiff, 0, len(spans))
	for i, span := range spans {
		fd, err := ParseSpan(lines, i, span)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, *fd)
	}

	return parsed, nil
}

// ParseSpan converts one lexer span into a ParsedFileDiff. The lines slice
// is the full patch split by SplitLines; idx identifies the span for error
// reporting. ParseSpan never reads past the span's EndLine.
func ParseSpan(lines []string, idx int, span Span) (*model.ParsedFileDiff, error) {
	if span.Binary != nil {
		return &model.ParsedFileDiff{
			OrigPath: span.Binary.DepotPath,
			OrigInfo: span.Binary.Revision,
			NewPath:  span.Binary.LocalPath,
			NewInfo:  span.Binary.Action,
			IsBinary: true,
		}, nil
	}

	h1 := lines[span.BeginLine-1]
	h2 := lines[span.BeginLine]

	origPath, origInfo, ok := splitRevisionHeader(h1)
	if !ok {
		return nil, &model.MissingRevisionInfoError{SpanIndex: idx, Label: span.Label, Line: span.BeginLine}
	}
	newPath, newInfo, ok := splitRevisionHeader(h2)
	if !ok {
		return nil, &model.MissingRevisionInfoError{SpanIndex: idx, Label: span.Label, Line: span.BeginLine + 1}
	}

	var raw bytes.Buffer
	raw.WriteString(h1)
	raw.WriteByte('\n')
	raw.WriteString(h2)
	raw.WriteByte('\n')

	for ln := span.BeginLine + 2; ln <= span.EndLine; ln++ {
		line := lines[ln-1]
		if isFileStartMarker(lines, ln, span.EndLine, line) {
			break
		}
		raw.WriteString(line)
		raw.WriteByte('\n')
	}

	return &model.ParsedFileDiff{
		OrigPath: origPath,
		NewPath:  newPath,
		OrigInfo: origInfo,
		NewInfo:  newInfo,
		RawText:  raw.Bytes(),
	}, nil
}

// splitRevisionHeader splits a "--- path<ws>revision info" header line into
// its path and revision info. At most two whitespace splits are performed,
// so the revision info may itself contain spaces.
func splitRevisionHeader(line string) (path, info string, ok bool) {
	rest := strings.TrimLeft(line, " \t")

	// keyword ("---", "+++", or "***")
	j := strings.IndexAny(rest, " \t")
	if j < 0 {
		return "", "", false
	}
	rest = strings.TrimLeft(rest[j:], " \t")

	// path
	j = strings.IndexAny(rest, " \t")
	if j < 0 {
		return "", "", false
	}
	path = rest[:j]

	info = strings.TrimRight(strings.TrimLeft(rest[j:], " \t"), " \t\r")
	if info == "" {
		return "", "", false
	}

	return path, info, true
}

// isFileStartMarker reports whether the line at ln opens the next file's
// section: a "diff " command line, an "Index: " line immediately followed
// by a ruler of '=' characters, or a "Property changes on: " line followed
// by a ruler of '_' characters. Heuristic by nature; an unrelated line
// starting with "Index: " and a ruler will also stop accumulation.
func isFileStartMarker(lines []string, ln, endLine int, line string) bool {
	if strings.HasPrefix(line, "diff ") {
		return true
	}
	if strings.HasPrefix(line, "Index: ") && ln < endLine && isRuler(lines[ln], '=') {
		return true
	}
	if strings.HasPrefix(line, "Property changes on: ") && ln < endLine && isRuler(lines[ln], '_') {
		return true
	}
	return false
}

// isRuler reports whether the line consists solely of the given character
// (at least four of them), ignoring a trailing carriage return.
func isRuler(line string, ch byte) bool {
	line = strings.TrimRight(line, "\r")
	if len(line) < 4 {
		return false
	}
	for i := 0; i < len(line); i++ {
		if line[i] != ch {
			return false
		}
	}
	return true
}
