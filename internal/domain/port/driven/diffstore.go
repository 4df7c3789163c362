package driven

import (
	"context"

	"github.com/dmarchant/patchvault/internal/domain/model"
)

// DiffStore defines the driven port for DiffSet, DiffCommit, and FileDiff
// persistence. Implementations maintain each collection's cached file count
// and line-count rollups incrementally: AddFileDiff and RemoveFileDiff adjust
// the owning DiffSet's (and DiffCommit's) totals by the file's delta rather
// than rescanning members.
type DiffStore interface {
	CreateDiffSet(ctx context.Context, ds model.DiffSet) (int64, error)
	GetDiffSet(ctx context.Context, id int64) (*model.DiffSet, error)

	// SetWarning records a degraded-ingest warning on an existing DiffSet.
	SetWarning(ctx context.Context, diffSetID int64, warning string) error

	// DeleteDiffSet removes a DiffSet with all its commits and file diffs and
	// returns the blob refs the deleted FileDiffs held, in position order,
	// so the caller can release them against the BlobStore.
	DeleteDiffSet(ctx context.Context, id int64) ([]model.BlobRef, error)

	AddCommit(ctx context.Context, c model.DiffCommit) (int64, error)
	GetCommits(ctx context.Context, diffSetID int64) ([]model.DiffCommit, error)

	AddFileDiff(ctx context.Context, fd model.FileDiff) (int64, error)
	GetFileDiffs(ctx context.Context, diffSetID int64) ([]model.FileDiff, error)

	// RemoveFileDiff deletes one FileDiff, adjusts the cached rollups, and
	// returns the removed record so the caller can release its blob ref.
	RemoveFileDiff(ctx context.Context, id int64) (*model.FileDiff, error)

	// RescanLineCounts recomputes a DiffSet's totals by summing its FileDiff
	// rows. It exists for consistency verification against the incrementally
	// maintained rollup, not for steady-state use.
	RescanLineCounts(ctx context.Context, diffSetID int64) (model.LineCounts, error)
}
