package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmarchant/patchvault/internal/domain/model"
	"github.com/dmarchant/patchvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BlobStore = (*BlobRepo)(nil)

// BlobRepo is the SQLite implementation of the BlobStore port: deduplicated,
// content-addressed storage of raw diff bytes keyed by SHA-256. All
// reference-count mutations go through the upsert in Put and the decrement
// in Release; no other code path touches reference_count.
type BlobRepo struct {
	db *DB
}

// NewBlobRepo creates a new BlobRepo backed by the given DB.
func NewBlobRepo(db *DB) *BlobRepo {
	return &BlobRepo{db: db}
}

// Put stores the raw bytes under their content hash, or increments the
// existing blob's reference count when the content is already present.
// The ON CONFLICT upsert on the content_hash primary key makes this a
// single atomic insert-or-increment, so concurrent callers racing to insert
// the same content end up with exactly one stored blob and a reference
// count equal to the number of Put calls.
func (r *BlobRepo) Put(ctx context.Context, raw []byte) (model.BlobRef, error) {
	ref := model.ComputeBlobRef(raw)

	const query = `
		INSERT INTO diff_blobs (content_hash, content, byte_length, reference_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(content_hash) DO UPDATE SET reference_count = reference_count + 1
	`

	if _, err := r.db.Writer.ExecContext(ctx, query, string(ref), raw, len(raw)); err != nil {
		return "", fmt.Errorf("put blob %s: %w", ref, err)
	}

	return ref, nil
}

// Get returns the stored bytes for ref.
func (r *BlobRepo) Get(ctx context.Context, ref model.BlobRef) ([]byte, error) {
	const query = `SELECT content FROM diff_blobs WHERE content_hash = ?`

	var content []byte
	err := r.db.Reader.QueryRowContext(ctx, query, string(ref)).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get blob %s: %w", ref, model.ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", ref, err)
	}

	return content, nil
}

// Stat returns the bookkeeping record for ref without loading the bytes.
func (r *BlobRepo) Stat(ctx context.Context, ref model.BlobRef) (*model.DiffBlob, error) {
	const query = `SELECT content_hash, byte_length, reference_count FROM diff_blobs WHERE content_hash = ?`

	var blob model.DiffBlob
	var hash string
	err := r.db.Reader.QueryRowContext(ctx, query, string(ref)).Scan(&hash, &blob.ByteLength, &blob.ReferenceCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stat blob %s: %w", ref, model.ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat blob %s: %w", ref, err)
	}

	blob.ContentHash = model.BlobRef(hash)
	return &blob, nil
}

// Release decrements the blob's reference count. A count that reaches zero
// marks the blob deletable; the bytes stay put for a maintenance pass.
func (r *BlobRepo) Release(ctx context.Context, ref model.BlobRef) error {
	const query = `
		UPDATE diff_blobs SET reference_count = reference_count - 1
		WHERE content_hash = ? AND reference_count > 0
	`

	result, err := r.db.Writer.ExecContext(ctx, query, string(ref))
	if err != nil {
		return fmt.Errorf("release blob %s: %w", ref, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		// Either the ref never existed or the count is already zero; both
		// mean a reference was released that was never held.
		return fmt.Errorf("release blob %s: %w", ref, model.ErrBlobNotFound)
	}

	return nil
}

// CountUnreferenced returns how many stored blobs have a zero reference
// count, i.e. are eligible for reclamation.
func (r *BlobRepo) CountUnreferenced(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM diff_blobs WHERE reference_count = 0`

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unreferenced blobs: %w", err)
	}

	return n, nil
}
