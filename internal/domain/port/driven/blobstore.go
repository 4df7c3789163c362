package driven

import (
	"context"

	"github.com/dmarchant/patchvault/internal/domain/model"
)

// BlobStore defines the driven port for content-addressable diff blob
// storage. Identical content is stored exactly once; each Put for the same
// content increments the blob's reference count, each Release decrements it.
//
// Put must be safe under concurrent callers racing to insert the same
// content: implementations use an atomic insert-or-increment primitive, not
// a check-then-act sequence. No other code path may mutate a blob's
// reference count.
type BlobStore interface {
	// Put stores raw diff bytes (or increments the existing blob's reference
	// count when the content is already present) and returns the content ref.
	Put(ctx context.Context, raw []byte) (model.BlobRef, error)

	// Get returns the stored bytes for ref. Returns model.ErrBlobNotFound
	// if no blob exists for the ref.
	Get(ctx context.Context, ref model.BlobRef) ([]byte, error)

	// Stat returns the bookkeeping record for ref without loading the bytes.
	Stat(ctx context.Context, ref model.BlobRef) (*model.DiffBlob, error)

	// Release decrements the blob's reference count. A blob whose count
	// reaches zero is eligible for garbage collection but is not removed here.
	Release(ctx context.Context, ref model.BlobRef) error

	// CountUnreferenced returns how many stored blobs have a zero reference
	// count, i.e. are eligible for reclamation by a maintenance pass.
	CountUnreferenced(ctx context.Context) (int, error)
}
