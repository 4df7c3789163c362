// Package memory provides an in-memory BlobStore for tests and embedded
// use. The on-disk adapter lives in the sqlite package; both implement the
// same port so the ingestion pipeline can be exercised without a database.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmarchant/patchvault/internal/domain/model"
	"github.com/dmarchant/patchvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BlobStore = (*BlobStore)(nil)

type blobEntry struct {
	content []byte
	refs    int64
}

// BlobStore is a mutex-guarded in-memory content-addressable store. The
// insert-or-increment under a single lock gives the same atomicity the
// SQLite upsert provides: concurrent Puts of identical content yield one
// stored blob with a reference count equal to the number of calls.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[model.BlobRef]*blobEntry
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[model.BlobRef]*blobEntry)}
}

// Put stores the raw bytes under their content hash, or increments the
// existing blob's reference count.
func (s *BlobStore) Put(_ context.Context, raw []byte) (model.BlobRef, error) {
	ref := model.ComputeBlobRef(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.blobs[ref]; ok {
		e.refs++
		return ref, nil
	}

	content := make([]byte, len(raw))
	copy(content, raw)
	s.blobs[ref] = &blobEntry{content: content, refs: 1}

	return ref, nil
}

// Get returns the stored bytes for ref.
func (s *BlobStore) Get(_ context.Context, ref model.BlobRef) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("get blob %s: %w", ref, model.ErrBlobNotFound)
	}

	content := make([]byte, len(e.content))
	copy(content, e.content)
	return content, nil
}

// Stat returns the bookkeeping record for ref.
func (s *BlobStore) Stat(_ context.Context, ref model.BlobRef) (*model.DiffBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("stat blob %s: %w", ref, model.ErrBlobNotFound)
	}

	return &model.DiffBlob{
		ContentHash:    ref,
		ByteLength:     int64(len(e.content)),
		ReferenceCount: e.refs,
	}, nil
}

// Release decrements the blob's reference count.
func (s *BlobStore) Release(_ context.Context, ref model.BlobRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[ref]
	if !ok || e.refs == 0 {
		return fmt.Errorf("release blob %s: %w", ref, model.ErrBlobNotFound)
	}

	e.refs--
	return nil
}

// CountUnreferenced returns how many blobs have a zero reference count.
func (s *BlobStore) CountUnreferenced(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.blobs {
		if e.refs == 0 {
			n++
		}
	}
	return n, nil
}
