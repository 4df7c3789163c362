package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// BlobRef is the content-derived identifier of a stored diff blob: the
// hex-encoded SHA-256 digest of the blob's raw bytes. Identical content
// always yields the same ref, which is what makes the store deduplicating.
type BlobRef string

// DiffBlob is the unit of content-addressable storage. The bytes themselves
// live in the backing store; this record carries the bookkeeping around them.
type DiffBlob struct {
	ContentHash    BlobRef
	ByteLength     int64
	ReferenceCount int64 // Number of live FileDiffs pointing at this blob.
}

// Deletable reports whether the blob is eligible for garbage collection.
// Actual reclamation is a maintenance operation; a blob must never be
// deleted while ReferenceCount > 0.
func (b DiffBlob) Deletable() bool {
	return b.ReferenceCount == 0
}

// ComputeBlobRef returns the content hash for the given raw diff bytes.
func ComputeBlobRef(raw []byte) BlobRef {
	sum := sha256.Sum256(raw)
	return BlobRef(hex.EncodeToString(sum[:]))
}
