package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarchant/patchvault/internal/adapter/driven/memory"
	"github.com/dmarchant/patchvault/internal/diffparser"
	"github.com/dmarchant/patchvault/internal/domain/model"
)

// --- Mock implementations for IngestService tests ---

// mockDiffStore is an in-memory DiffStore that maintains rollups the same
// way the SQLite adapter does. failFileDiffAt makes the Nth AddFileDiff
// call fail (1-based) to exercise the rollback path.
type mockDiffStore struct {
	nextID         int64
	diffSets       map[int64]*model.DiffSet
	files          map[int64]*model.FileDiff
	commits        map[int64][]model.DiffCommit
	failFileDiffAt int
	fileAdds       int
}

func newMockDiffStore() *mockDiffStore {
	return &mockDiffStore{
		diffSets: make(map[int64]*model.DiffSet),
		files:    make(map[int64]*model.FileDiff),
		commits:  make(map[int64][]model.DiffCommit),
	}
}

func (m *mockDiffStore) CreateDiffSet(_ context.Context, ds model.DiffSet) (int64, error) {
	m.nextID++
	ds.ID = m.nextID
	m.diffSets[ds.ID] = &ds
	return ds.ID, nil
}

func (m *mockDiffStore) GetDiffSet(_ context.Context, id int64) (*model.DiffSet, error) {
	ds, ok := m.diffSets[id]
	if !ok {
		return nil, nil
	}
	copied := *ds
	return &copied, nil
}

func (m *mockDiffStore) SetWarning(_ context.Context, diffSetID int64, warning string) error {
	ds, ok := m.diffSets[diffSetID]
	if !ok {
		return fmt.Errorf("diffset %d not found", diffSetID)
	}
	ds.Warning = warning
	return nil
}

func (m *mockDiffStore) DeleteDiffSet(_ context.Context, id int64) ([]model.BlobRef, error) {
	if _, ok := m.diffSets[id]; !ok {
		return nil, fmt.Errorf("diffset %d not found", id)
	}
	var refs []model.BlobRef
	for fdID, fd := range m.files {
		if fd.DiffSetID == id {
			refs = append(refs, fd.BlobHash)
			delete(m.files, fdID)
		}
	}
	delete(m.diffSets, id)
	delete(m.commits, id)
	return refs, nil
}

func (m *mockDiffStore) AddCommit(_ context.Context, c model.DiffCommit) (int64, error) {
	m.nextID++
	c.ID = m.nextID
	m.commits[c.DiffSetID] = append(m.commits[c.DiffSetID], c)
	m.diffSets[c.DiffSetID].CommitCount++
	return c.ID, nil
}

func (m *mockDiffStore) GetCommits(_ context.Context, diffSetID int64) ([]model.DiffCommit, error) {
	return m.commits[diffSetID], nil
}

func (m *mockDiffStore) AddFileDiff(_ context.Context, fd model.FileDiff) (int64, error) {
	m.fileAdds++
	if m.failFileDiffAt > 0 && m.fileAdds == m.failFileDiffAt {
		return 0, errors.New("simulated storage failure")
	}
	m.nextID++
	fd.ID = m.nextID
	m.files[fd.ID] = &fd

	ds := m.diffSets[fd.DiffSetID]
	ds.FileCount++
	ds.Counts = ds.Counts.Add(fd.Counts)
	return fd.ID, nil
}

func (m *mockDiffStore) GetFileDiffs(_ context.Context, diffSetID int64) ([]model.FileDiff, error) {
	var out []model.FileDiff
	for _, fd := range m.files {
		if fd.DiffSetID == diffSetID {
			out = append(out, *fd)
		}
	}
	return out, nil
}

func (m *mockDiffStore) RemoveFileDiff(_ context.Context, id int64) (*model.FileDiff, error) {
	fd, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("file diff %d not found", id)
	}
	delete(m.files, id)

	ds := m.diffSets[fd.DiffSetID]
	ds.FileCount--
	ds.Counts = ds.Counts.Sub(fd.Counts)
	return fd, nil
}

func (m *mockDiffStore) RescanLineCounts(_ context.Context, diffSetID int64) (model.LineCounts, error) {
	var total model.LineCounts
	for _, fd := range m.files {
		if fd.DiffSetID == diffSetID {
			total = total.Add(fd.Counts)
		}
	}
	return total, nil
}

// mockSCMBackend resolves every token to "resolved:<token>".
type mockSCMBackend struct{}

func (mockSCMBackend) ResolveRevision(_ context.Context, _, token string) (string, error) {
	return "resolved:" + token, nil
}

func (mockSCMBackend) GetFileContent(_ context.Context, _, _ string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

const singleFilePatch = "--- a/foo.txt\tRev 1\n+++ b/foo.txt\tRev 2\n@@ -1,1 +1,2 @@\n-old\n+new\n+line2\n"

func singleFileRequest() IngestRequest {
	return IngestRequest{
		RevisionNumber: 1,
		PatchText:      singleFilePatch,
		Boundaries:     []diffparser.FileBoundary{{Line: 1, Label: "foo.txt"}},
	}
}

func TestIngestService_SingleFile(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())
	ctx := context.Background()

	ds, err := svc.Ingest(ctx, singleFileRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, ds.FileCount)
	assert.Equal(t, 0, ds.CommitCount)
	assert.Equal(t, 2, ds.Counts.Inserts)
	assert.Equal(t, 1, ds.Counts.Deletes)

	files, err := diffs.GetFileDiffs(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)

	fd := files[0]
	assert.Equal(t, "a/foo.txt", fd.SourcePath)
	assert.Equal(t, "b/foo.txt", fd.DestPath)
	assert.Equal(t, "Rev 1", fd.SourceRevision)
	assert.Equal(t, "Rev 2", fd.DestRevision)
	assert.Equal(t, model.FileDiffModified, fd.Status)

	// The blob holds the exact hunk text, reference count 1.
	content, err := blobs.Get(ctx, fd.BlobHash)
	require.NoError(t, err)
	assert.Equal(t, singleFilePatch, string(content))

	blob, err := blobs.Stat(ctx, fd.BlobHash)
	require.NoError(t, err)
	assert.Equal(t, int64(1), blob.ReferenceCount)
}

func TestIngestService_DeduplicatesAcrossDiffSets(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())
	ctx := context.Background()

	// Byte-identical hunk content ingested into two different DiffSets.
	_, err := svc.Ingest(ctx, singleFileRequest())
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, singleFileRequest())
	require.NoError(t, err)

	blob, err := blobs.Stat(ctx, model.ComputeBlobRef([]byte(singleFilePatch)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), blob.ReferenceCount,
		"identical content across diffsets shares one blob")
}

func TestIngestService_BrokenChainRejected(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())

	req := singleFileRequest()
	req.RootCommitID = "A"
	req.Commits = []CommitInput{
		{CommitID: "A"},
		{CommitID: "B"}, // Never connected to A or C.
		{CommitID: "C", ParentCommitIDs: []string{"A"}},
	}

	_, err := svc.Ingest(context.Background(), req)

	var broken *model.DependencyChainBrokenError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, "B", broken.CommitID)

	// Nothing persisted, nothing leaked.
	assert.Empty(t, diffs.diffSets)
	unreferenced, err := blobs.CountUnreferenced(context.Background())
	require.NoError(t, err)
	assert.Zero(t, unreferenced)
}

func TestIngestService_BrokenChainAllowedWithWarning(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())

	req := singleFileRequest()
	req.RootCommitID = "A"
	req.AllowBrokenChain = true
	req.Commits = []CommitInput{
		{CommitID: "A", FileLabels: []string{"foo.txt"}},
		{CommitID: "B"},
	}

	ds, err := svc.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, ds.Warning, "B")
	assert.Equal(t, 2, ds.CommitCount)
}

func TestIngestService_AssignsFilesToCommits(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())
	ctx := context.Background()

	req := singleFileRequest()
	req.RootCommitID = "A"
	req.Commits = []CommitInput{
		{CommitID: "A", Author: "Dana Marchant", CommitMessage: "Change foo", FileLabels: []string{"foo.txt"}},
	}

	ds, err := svc.Ingest(ctx, req)
	require.NoError(t, err)

	files, err := diffs.GetFileDiffs(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "A", files[0].CommitID)
}

func TestIngestService_RollbackOnStoreFailure(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	diffs.failFileDiffAt = 2
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())
	ctx := context.Background()

	patch := "--- a/one.txt\t(rev 1)\n+++ b/one.txt\t(rev 2)\n@@ -1 +1 @@\n-x\n+y\n" +
		"--- a/two.txt\t(rev 1)\n+++ b/two.txt\t(rev 2)\n@@ -1 +1 @@\n-p\n+q\n"
	req := IngestRequest{
		RevisionNumber: 1,
		PatchText:      patch,
		Boundaries: []diffparser.FileBoundary{
			{Line: 1, Label: "one.txt"},
			{Line: 6, Label: "two.txt"},
		},
	}

	_, err := svc.Ingest(ctx, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated storage failure")

	// The partial DiffSet is gone and every acquired blob reference was
	// released by compensation.
	assert.Empty(t, diffs.diffSets)
	assert.Empty(t, diffs.files)

	for _, raw := range []string{
		"--- a/one.txt\t(rev 1)\n+++ b/one.txt\t(rev 2)\n@@ -1 +1 @@\n-x\n+y\n",
		"--- a/two.txt\t(rev 1)\n+++ b/two.txt\t(rev 2)\n@@ -1 +1 @@\n-p\n+q\n",
	} {
		blob, err := blobs.Stat(ctx, model.ComputeBlobRef([]byte(raw)))
		require.NoError(t, err)
		assert.Equal(t, int64(0), blob.ReferenceCount)
	}
}

func TestIngestService_ParseFailureAbortsBeforeStorage(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())

	req := IngestRequest{
		RevisionNumber: 1,
		PatchText:      "--- a/one.txt\n+++ b/one.txt\tRev 2\n@@ -1 +1 @@\n-x\n+y\n",
		Boundaries:     []diffparser.FileBoundary{{Line: 1, Label: "one.txt"}},
	}

	_, err := svc.Ingest(context.Background(), req)

	var missing *model.MissingRevisionInfoError
	require.ErrorAs(t, err, &missing)
	assert.Empty(t, diffs.diffSets)
}

func TestIngestService_ResolvesRevisionsThroughBackend(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, mockSCMBackend{}, 4, testLogger())
	ctx := context.Background()

	ds, err := svc.Ingest(ctx, singleFileRequest())
	require.NoError(t, err)

	files, err := diffs.GetFileDiffs(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Equal(t, "resolved:Rev 1", files[0].SourceRevision)
	assert.Equal(t, "resolved:Rev 2", files[0].DestRevision)
}

func TestIngestService_StatusDerivation(t *testing.T) {
	tests := []struct {
		name   string
		patch  string
		status model.FileDiffStatus
	}{
		{
			name:   "pre-creation is added",
			patch:  "--- foo.txt\tPRE-CREATION\n+++ foo.txt\t(rev 1)\n@@ -0,0 +1 @@\n+new\n",
			status: model.FileDiffAdded,
		},
		{
			name:   "dev null dest is deleted",
			patch:  "--- a/foo.txt\t(rev 1)\n+++ /dev/null\t(none)\n@@ -1 +0,0 @@\n-old\n",
			status: model.FileDiffDeleted,
		},
		{
			name:   "renamed path is moved",
			patch:  "--- a/old.txt\t(rev 1)\n+++ b/new.txt\t(rev 2)\n@@ -1 +1 @@\n-x\n+y\n",
			status: model.FileDiffMoved,
		},
		{
			name:   "same path is modified",
			patch:  "--- a/foo.txt\t(rev 1)\n+++ b/foo.txt\t(rev 2)\n@@ -1 +1 @@\n-x\n+y\n",
			status: model.FileDiffModified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := memory.NewBlobStore()
			diffs := newMockDiffStore()
			svc := NewIngestService(blobs, diffs, nil, 1, testLogger())
			ctx := context.Background()

			ds, err := svc.Ingest(ctx, IngestRequest{
				RevisionNumber: 1,
				PatchText:      tt.patch,
				Boundaries:     []diffparser.FileBoundary{{Line: 1, Label: "foo.txt"}},
			})
			require.NoError(t, err)

			files, err := diffs.GetFileDiffs(ctx, ds.ID)
			require.NoError(t, err)
			require.Len(t, files, 1)
			assert.Equal(t, tt.status, files[0].Status)
		})
	}
}

func TestIngestService_Delete(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())
	ctx := context.Background()

	ds, err := svc.Ingest(ctx, singleFileRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, ds.ID))

	blob, err := blobs.Stat(ctx, model.ComputeBlobRef([]byte(singleFilePatch)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), blob.ReferenceCount)
	assert.Empty(t, diffs.diffSets)
}

func TestIngestService_TotalLineCounts(t *testing.T) {
	blobs := memory.NewBlobStore()
	diffs := newMockDiffStore()
	svc := NewIngestService(blobs, diffs, nil, 4, testLogger())
	ctx := context.Background()

	// Missing collection yields all zeros, never an error.
	counts, total, err := svc.TotalLineCounts(ctx, 999)
	require.NoError(t, err)
	assert.True(t, counts.IsZero())
	assert.Zero(t, total)

	ds, err := svc.Ingest(ctx, singleFileRequest())
	require.NoError(t, err)

	counts, total, err = svc.TotalLineCounts(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Inserts)
	assert.Equal(t, 1, counts.Deletes)
	assert.Equal(t, 3, total)
}

func TestValidateCommitGraph(t *testing.T) {
	t.Run("linear chain is valid", func(t *testing.T) {
		err := ValidateCommitGraph("A", []CommitInput{
			{CommitID: "A"},
			{CommitID: "B", ParentCommitIDs: []string{"A"}},
			{CommitID: "C", ParentCommitIDs: []string{"B"}},
		})
		assert.NoError(t, err)
	})

	t.Run("external parents are ignored", func(t *testing.T) {
		err := ValidateCommitGraph("A", []CommitInput{
			{CommitID: "A", ParentCommitIDs: []string{"upstream"}},
			{CommitID: "B", ParentCommitIDs: []string{"A"}},
		})
		assert.NoError(t, err)
	})

	t.Run("disconnected commit is reported", func(t *testing.T) {
		err := ValidateCommitGraph("A", []CommitInput{
			{CommitID: "A"},
			{CommitID: "B"},
			{CommitID: "C", ParentCommitIDs: []string{"A"}},
		})

		var broken *model.DependencyChainBrokenError
		require.ErrorAs(t, err, &broken)
		assert.Equal(t, "B", broken.CommitID)
		assert.True(t, strings.Contains(err.Error(), "incomplete commit history"))
	})

	t.Run("merge commit with two parents", func(t *testing.T) {
		err := ValidateCommitGraph("A", []CommitInput{
			{CommitID: "A"},
			{CommitID: "B", ParentCommitIDs: []string{"A"}},
			{CommitID: "C", ParentCommitIDs: []string{"A"}},
			{CommitID: "D", ParentCommitIDs: []string{"B", "C"}},
		})
		assert.NoError(t, err)
	})
}
