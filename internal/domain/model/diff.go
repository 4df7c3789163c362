package model

import "time"

// FileDiffStatus represents the kind of change a FileDiff records.
type FileDiffStatus string

const (
	FileDiffModified FileDiffStatus = "modified"
	FileDiffAdded    FileDiffStatus = "added"
	FileDiffDeleted  FileDiffStatus = "deleted"
	FileDiffCopied   FileDiffStatus = "copied"
	FileDiffMoved    FileDiffStatus = "moved"
)

// LineCounts holds per-file line change statistics derived from hunk text.
// Replaces is a heuristic proxy for line replacement (see diffparser.CountLines);
// it is derived, never scanned directly.
type LineCounts struct {
	Inserts  int
	Deletes  int
	Replaces int
	Equals   int
}

// Total returns the total number of lines covered by the diff:
// inserts + deletes + equals.
func (c LineCounts) Total() int {
	return c.Inserts + c.Deletes + c.Equals
}

// Add returns the element-wise sum of c and o.
func (c LineCounts) Add(o LineCounts) LineCounts {
	return LineCounts{
		Inserts:  c.Inserts + o.Inserts,
		Deletes:  c.Deletes + o.Deletes,
		Replaces: c.Replaces + o.Replaces,
		Equals:   c.Equals + o.Equals,
	}
}

// Sub returns the element-wise difference of c and o.
func (c LineCounts) Sub(o LineCounts) LineCounts {
	return LineCounts{
		Inserts:  c.Inserts - o.Inserts,
		Deletes:  c.Deletes - o.Deletes,
		Replaces: c.Replaces - o.Replaces,
		Equals:   c.Equals - o.Equals,
	}
}

// IsZero reports whether all counts are zero.
func (c LineCounts) IsZero() bool {
	return c == LineCounts{}
}

// ParsedFileDiff is the transient result of parsing one file span out of a
// patch. It is consumed immediately by the ingestion pipeline (blob storage,
// line counting) and never persisted as-is.
type ParsedFileDiff struct {
	OrigPath string
	NewPath  string
	OrigInfo string // Opaque revision token from the patch header.
	NewInfo  string
	RawText  []byte // Hunk body including the two header lines; empty for binary files.
	IsBinary bool
}

// FileDiff is the persisted record of one file's change within one DiffSet,
// optionally grouped under a DiffCommit. The diff bytes themselves live in
// the blob store; BlobHash references them.
type FileDiff struct {
	ID        int64
	DiffSetID int64
	CommitID  string // Empty for non-multi-commit diffs.
	Position  int    // Order of the file's span in the source patch.

	SourcePath     string
	DestPath       string
	SourceRevision string
	DestRevision   string
	Status         FileDiffStatus

	BlobHash       BlobRef
	ParentBlobHash BlobRef // Optional; set when the diff is against an already-modified baseline.

	Counts    LineCounts
	CreatedAt time.Time
}
