package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dmarchant/patchvault/internal/diffparser"
	"github.com/dmarchant/patchvault/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error","kind":"internal"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response carrying a machine-readable error
// kind plus, where available, the offending file label and line so callers
// can render a precise message.
func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	File  string `json:"file,omitempty"`
	Line  int    `json:"line,omitempty"`
}

// BoundaryRequest is one entry of the file-boundary list in an ingestion
// request body.
type BoundaryRequest struct {
	Line  int    `json:"line"`
	Label string `json:"label"`
}

// CommitRequest is one logical commit of a multi-commit ingestion request.
type CommitRequest struct {
	CommitID        string   `json:"commit_id"`
	Author          string   `json:"author"`
	CommitMessage   string   `json:"commit_message"`
	ParentCommitIDs []string `json:"parent_commit_ids"`
	FileLabels      []string `json:"file_labels"`
}

// IngestDiffSetRequest is the JSON body for the diffset ingestion endpoint.
type IngestDiffSetRequest struct {
	RevisionNumber   int               `json:"revision_number"`
	Patch            string            `json:"patch"`
	Boundaries       []BoundaryRequest `json:"boundaries"`
	Commits          []CommitRequest   `json:"commits"`
	RootCommitID     string            `json:"root_commit_id"`
	AllowBrokenChain bool              `json:"allow_broken_chain"`
}

// DiffSetResponse is the JSON representation of a DiffSet.
type DiffSetResponse struct {
	ID             int64  `json:"id"`
	RevisionNumber int    `json:"revision_number"`
	FileCount      int    `json:"file_count"`
	CommitCount    int    `json:"commit_count"`
	InsertCount    int    `json:"insert_count"`
	DeleteCount    int    `json:"delete_count"`
	ReplaceCount   int    `json:"replace_count"`
	EqualCount     int    `json:"equal_count"`
	TotalLineCount int    `json:"total_line_count"`
	Warning        string `json:"warning,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// FileDiffResponse is the JSON representation of a FileDiff.
type FileDiffResponse struct {
	ID             int64  `json:"id"`
	CommitID       string `json:"commit_id,omitempty"`
	Position       int    `json:"position"`
	SourcePath     string `json:"source_path"`
	DestPath       string `json:"dest_path"`
	SourceRevision string `json:"source_revision"`
	DestRevision   string `json:"dest_revision"`
	Status         string `json:"status"`
	BlobHash       string `json:"blob_hash"`
	InsertCount    int    `json:"insert_count"`
	DeleteCount    int    `json:"delete_count"`
	ReplaceCount   int    `json:"replace_count"`
	EqualCount     int    `json:"equal_count"`
}

// StatsResponse is the JSON representation of a DiffSet's aggregate line counts.
type StatsResponse struct {
	InsertCount    int `json:"insert_count"`
	DeleteCount    int `json:"delete_count"`
	ReplaceCount   int `json:"replace_count"`
	EqualCount     int `json:"equal_count"`
	TotalLineCount int `json:"total_line_count"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toDiffSetResponse(ds model.DiffSet) DiffSetResponse {
	return DiffSetResponse{
		ID:             ds.ID,
		RevisionNumber: ds.RevisionNumber,
		FileCount:      ds.FileCount,
		CommitCount:    ds.CommitCount,
		InsertCount:    ds.Counts.Inserts,
		DeleteCount:    ds.Counts.Deletes,
		ReplaceCount:   ds.Counts.Replaces,
		EqualCount:     ds.Counts.Equals,
		TotalLineCount: ds.Counts.Total(),
		Warning:        ds.Warning,
		CreatedAt:      ds.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toFileDiffResponse(fd model.FileDiff) FileDiffResponse {
	return FileDiffResponse{
		ID:             fd.ID,
		CommitID:       fd.CommitID,
		Position:       fd.Position,
		SourcePath:     fd.SourcePath,
		DestPath:       fd.DestPath,
		SourceRevision: fd.SourceRevision,
		DestRevision:   fd.DestRevision,
		Status:         string(fd.Status),
		BlobHash:       string(fd.BlobHash),
		InsertCount:    fd.Counts.Inserts,
		DeleteCount:    fd.Counts.Deletes,
		ReplaceCount:   fd.Counts.Replaces,
		EqualCount:     fd.Counts.Equals,
	}
}

func toBoundaries(reqs []BoundaryRequest) []diffparser.FileBoundary {
	boundaries := make([]diffparser.FileBoundary, 0, len(reqs))
	for _, b := range reqs {
		boundaries = append(boundaries, diffparser.FileBoundary{Line: b.Line, Label: b.Label})
	}
	return boundaries
}
