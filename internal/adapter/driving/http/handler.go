// Package httphandler is the HTTP driving adapter: a thin JSON surface over
// the diff ingestion pipeline and the persisted diff records.
package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmarchant/patchvault/internal/application"
	"github.com/dmarchant/patchvault/internal/domain/model"
	"github.com/dmarchant/patchvault/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	ingestSvc     *application.IngestService
	diffStore     driven.DiffStore
	blobStore     driven.BlobStore
	maxPatchBytes int64
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	ingestSvc *application.IngestService,
	diffStore driven.DiffStore,
	blobStore driven.BlobStore,
	maxPatchBytes int64,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ingestSvc:     ingestSvc,
		diffStore:     diffStore,
		blobStore:     blobStore,
		maxPatchBytes: maxPatchBytes,
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/diffsets", h.IngestDiffSet)
	mux.HandleFunc("GET /api/v1/diffsets/{id}", h.GetDiffSet)
	mux.HandleFunc("GET /api/v1/diffsets/{id}/files", h.ListFileDiffs)
	mux.HandleFunc("GET /api/v1/diffsets/{id}/stats", h.GetDiffSetStats)
	mux.HandleFunc("DELETE /api/v1/diffsets/{id}", h.DeleteDiffSet)
	mux.HandleFunc("GET /api/v1/blobs/{hash}", h.GetBlob)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// IngestDiffSet accepts a patch submission and runs the full ingestion
// pipeline. Parse failures map to 400, a broken dependency chain to 422,
// both with machine-readable error kinds.
func (h *Handler) IngestDiffSet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPatchBytes)

	var req IngestDiffSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Patch == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patch must not be empty")
		return
	}

	commits := make([]application.CommitInput, 0, len(req.Commits))
	for _, c := range req.Commits {
		commits = append(commits, application.CommitInput{
			CommitID:        c.CommitID,
			Author:          c.Author,
			CommitMessage:   c.CommitMessage,
			ParentCommitIDs: c.ParentCommitIDs,
			FileLabels:      c.FileLabels,
		})
	}

	ds, err := h.ingestSvc.Ingest(r.Context(), application.IngestRequest{
		RevisionNumber:   req.RevisionNumber,
		PatchText:        req.Patch,
		Boundaries:       toBoundaries(req.Boundaries),
		Commits:          commits,
		RootCommitID:     req.RootCommitID,
		AllowBrokenChain: req.AllowBrokenChain,
	})
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDiffSetResponse(*ds))
}

// writeIngestError maps the error taxonomy onto HTTP responses: any
// ingestion failure resolves to "this diff could not be processed" plus a
// machine-readable kind and, where available, file label and line.
func (h *Handler) writeIngestError(w http.ResponseWriter, err error) {
	var malformed *model.MalformedPatchError
	if errors.As(err, &malformed) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "this diff could not be processed: " + malformed.Error(),
			Kind:  "malformed_patch",
			Line:  malformed.Line,
		})
		return
	}

	var missing *model.MissingRevisionInfoError
	if errors.As(err, &missing) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "this diff could not be processed: " + missing.Error(),
			Kind:  "missing_revision_info",
			File:  missing.Label,
			Line:  missing.Line,
		})
		return
	}

	var broken *model.DependencyChainBrokenError
	if errors.As(err, &broken) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: "this diff could not be processed: " + broken.Error(),
			Kind:  "dependency_chain_broken",
			File:  broken.CommitID,
		})
		return
	}

	h.logger.Error("diffset ingestion failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// GetDiffSet returns a single DiffSet by id.
func (h *Handler) GetDiffSet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.diffSetID(w, r)
	if !ok {
		return
	}

	ds, err := h.diffStore.GetDiffSet(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get diffset", "diffset_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	if ds == nil {
		writeError(w, http.StatusNotFound, "not_found", "diffset not found")
		return
	}

	writeJSON(w, http.StatusOK, toDiffSetResponse(*ds))
}

// ListFileDiffs returns a DiffSet's FileDiffs in source patch order.
func (h *Handler) ListFileDiffs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.diffSetID(w, r)
	if !ok {
		return
	}

	diffs, err := h.diffStore.GetFileDiffs(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list file diffs", "diffset_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	resp := make([]FileDiffResponse, 0, len(diffs))
	for _, fd := range diffs {
		resp = append(resp, toFileDiffResponse(fd))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetDiffSetStats returns a DiffSet's cached aggregate line counts. Missing
// or empty DiffSets yield all zeros rather than an error.
func (h *Handler) GetDiffSetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.diffSetID(w, r)
	if !ok {
		return
	}

	counts, total, err := h.ingestSvc.TotalLineCounts(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get diffset stats", "diffset_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		InsertCount:    counts.Inserts,
		DeleteCount:    counts.Deletes,
		ReplaceCount:   counts.Replaces,
		EqualCount:     counts.Equals,
		TotalLineCount: total,
	})
}

// DeleteDiffSet removes a DiffSet and releases its blob references.
func (h *Handler) DeleteDiffSet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.diffSetID(w, r)
	if !ok {
		return
	}

	if err := h.ingestSvc.Delete(r.Context(), id); err != nil {
		h.logger.Error("failed to delete diffset", "diffset_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetBlob returns the raw stored diff bytes for a content hash.
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	content, err := h.blobStore.Get(r.Context(), model.BlobRef(hash))
	if errors.Is(err, model.ErrBlobNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "blob not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get blob", "hash", hash, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(content)
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) diffSetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid diffset id")
		return 0, false
	}
	return id, true
}
