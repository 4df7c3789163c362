package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmarchant/patchvault/internal/domain/model"
	"github.com/dmarchant/patchvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DiffStore = (*DiffSetRepo)(nil)

// DiffSetRepo is the SQLite implementation of the DiffStore port. Cached
// file counts and line-count rollups on diff_sets and diff_commits are
// adjusted by delta inside the same transaction that adds or removes a
// file_diffs row, never recomputed by rescanning members.
type DiffSetRepo struct {
	db *DB
}

// NewDiffSetRepo creates a new DiffSetRepo backed by the given DB.
func NewDiffSetRepo(db *DB) *DiffSetRepo {
	return &DiffSetRepo{db: db}
}

// CreateDiffSet inserts a new DiffSet with zeroed counters and returns its id.
func (r *DiffSetRepo) CreateDiffSet(ctx context.Context, ds model.DiffSet) (int64, error) {
	const query = `
		INSERT INTO diff_sets (revision_number, warning, created_at)
		VALUES (?, ?, ?)
	`

	createdAt := ds.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := r.db.Writer.ExecContext(ctx, query, ds.RevisionNumber, ds.Warning, createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert diffset revision %d: %w", ds.RevisionNumber, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("diffset insert id: %w", err)
	}

	return id, nil
}

// GetDiffSet retrieves a DiffSet by id. Returns nil, nil if it does not exist.
func (r *DiffSetRepo) GetDiffSet(ctx context.Context, id int64) (*model.DiffSet, error) {
	const query = `
		SELECT id, revision_number, file_count, commit_count,
		       insert_count, delete_count, replace_count, equal_count,
		       warning, created_at
		FROM diff_sets
		WHERE id = ?
	`

	var ds model.DiffSet
	var createdAt string
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(
		&ds.ID, &ds.RevisionNumber, &ds.FileCount, &ds.CommitCount,
		&ds.Counts.Inserts, &ds.Counts.Deletes, &ds.Counts.Replaces, &ds.Counts.Equals,
		&ds.Warning, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get diffset %d: %w", id, err)
	}

	ds.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &ds, nil
}

// SetWarning records a degraded-ingest warning on an existing DiffSet.
func (r *DiffSetRepo) SetWarning(ctx context.Context, diffSetID int64, warning string) error {
	const query = `UPDATE diff_sets SET warning = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, warning, diffSetID)
	if err != nil {
		return fmt.Errorf("set warning on diffset %d: %w", diffSetID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("diffset %d not found", diffSetID)
	}

	return nil
}

// DeleteDiffSet removes a DiffSet with all its commits and file diffs and
// returns the blob refs its FileDiffs held, in position order, so the
// caller can release them against the blob store.
func (r *DiffSetRepo) DeleteDiffSet(ctx context.Context, id int64) ([]model.BlobRef, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const selectQuery = `SELECT blob_hash FROM file_diffs WHERE diffset_id = ? ORDER BY position`
	rows, err := tx.QueryContext(ctx, selectQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query blob refs for diffset %d: %w", id, err)
	}

	var refs []model.BlobRef
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan blob ref: %w", err)
		}
		refs = append(refs, model.BlobRef(hash))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate blob refs: %w", err)
	}
	rows.Close()

	// file_diffs and diff_commits rows cascade off the diff_sets delete.
	const deleteQuery = `DELETE FROM diff_sets WHERE id = ?`
	result, err := tx.ExecContext(ctx, deleteQuery, id)
	if err != nil {
		return nil, fmt.Errorf("delete diffset %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("diffset %d not found", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete of diffset %d: %w", id, err)
	}

	return refs, nil
}

// AddCommit inserts a DiffCommit and increments the owning DiffSet's cached
// commit count in the same transaction.
func (r *DiffSetRepo) AddCommit(ctx context.Context, c model.DiffCommit) (int64, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	parents := c.ParentCommitIDs
	if parents == nil {
		parents = []string{}
	}
	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return 0, fmt.Errorf("marshal parent commit ids: %w", err)
	}

	const insertQuery = `
		INSERT INTO diff_commits (diffset_id, commit_id, author, commit_message, parent_commit_ids)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertQuery, c.DiffSetID, c.CommitID, c.Author, c.CommitMessage, string(parentsJSON))
	if err != nil {
		return 0, fmt.Errorf("insert commit %s for diffset %d: %w", c.CommitID, c.DiffSetID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("commit insert id: %w", err)
	}

	const bumpQuery = `UPDATE diff_sets SET commit_count = commit_count + 1 WHERE id = ?`
	if _, err := tx.ExecContext(ctx, bumpQuery, c.DiffSetID); err != nil {
		return 0, fmt.Errorf("bump commit count for diffset %d: %w", c.DiffSetID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert of commit %s: %w", c.CommitID, err)
	}

	return id, nil
}

// GetCommits returns all DiffCommits of a DiffSet ordered by insertion.
func (r *DiffSetRepo) GetCommits(ctx context.Context, diffSetID int64) ([]model.DiffCommit, error) {
	const query = `
		SELECT id, diffset_id, commit_id, author, commit_message, parent_commit_ids,
		       insert_count, delete_count, replace_count, equal_count
		FROM diff_commits
		WHERE diffset_id = ?
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, diffSetID)
	if err != nil {
		return nil, fmt.Errorf("query commits for diffset %d: %w", diffSetID, err)
	}
	defer rows.Close()

	var commits []model.DiffCommit
	for rows.Next() {
		var c model.DiffCommit
		var parentsJSON string
		err := rows.Scan(
			&c.ID, &c.DiffSetID, &c.CommitID, &c.Author, &c.CommitMessage, &parentsJSON,
			&c.Counts.Inserts, &c.Counts.Deletes, &c.Counts.Replaces, &c.Counts.Equals,
		)
		if err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		if err := json.Unmarshal([]byte(parentsJSON), &c.ParentCommitIDs); err != nil {
			return nil, fmt.Errorf("unmarshal parent commit ids: %w", err)
		}
		commits = append(commits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}

	return commits, nil
}

// AddFileDiff inserts a FileDiff row and adjusts the owning DiffSet's (and,
// when the file belongs to a commit, the DiffCommit's) cached file count
// and line-count rollups by the file's delta, all in one transaction.
func (r *DiffSetRepo) AddFileDiff(ctx context.Context, fd model.FileDiff) (int64, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	createdAt := fd.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const insertQuery = `
		INSERT INTO file_diffs (
			diffset_id, commit_id, position, source_path, dest_path,
			source_revision, dest_revision, status, blob_hash, parent_blob_hash,
			insert_count, delete_count, replace_count, equal_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertQuery,
		fd.DiffSetID, fd.CommitID, fd.Position, fd.SourcePath, fd.DestPath,
		fd.SourceRevision, fd.DestRevision, string(fd.Status), string(fd.BlobHash), string(fd.ParentBlobHash),
		fd.Counts.Inserts, fd.Counts.Deletes, fd.Counts.Replaces, fd.Counts.Equals,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert file diff %s for diffset %d: %w", fd.DestPath, fd.DiffSetID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("file diff insert id: %w", err)
	}

	if err := applyRollupDelta(ctx, tx, fd, +1); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit file diff %s: %w", fd.DestPath, err)
	}

	return id, nil
}

// GetFileDiffs returns a DiffSet's FileDiffs in source patch order.
func (r *DiffSetRepo) GetFileDiffs(ctx context.Context, diffSetID int64) ([]model.FileDiff, error) {
	const query = `
		SELECT id, diffset_id, commit_id, position, source_path, dest_path,
		       source_revision, dest_revision, status, blob_hash, parent_blob_hash,
		       insert_count, delete_count, replace_count, equal_count, created_at
		FROM file_diffs
		WHERE diffset_id = ?
		ORDER BY position
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, diffSetID)
	if err != nil {
		return nil, fmt.Errorf("query file diffs for diffset %d: %w", diffSetID, err)
	}
	defer rows.Close()

	var diffs []model.FileDiff
	for rows.Next() {
		fd, err := scanFileDiff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file diff: %w", err)
		}
		diffs = append(diffs, *fd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file diffs: %w", err)
	}

	return diffs, nil
}

// RemoveFileDiff deletes one FileDiff, adjusts the cached rollups by its
// delta, and returns the removed record so the caller can release its blob
// reference.
func (r *DiffSetRepo) RemoveFileDiff(ctx context.Context, id int64) (*model.FileDiff, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const selectQuery = `
		SELECT id, diffset_id, commit_id, position, source_path, dest_path,
		       source_revision, dest_revision, status, blob_hash, parent_blob_hash,
		       insert_count, delete_count, replace_count, equal_count, created_at
		FROM file_diffs
		WHERE id = ?
	`
	fd, err := scanFileDiff(tx.QueryRowContext(ctx, selectQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file diff %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get file diff %d: %w", id, err)
	}

	const deleteQuery = `DELETE FROM file_diffs WHERE id = ?`
	if _, err := tx.ExecContext(ctx, deleteQuery, id); err != nil {
		return nil, fmt.Errorf("delete file diff %d: %w", id, err)
	}

	if err := applyRollupDelta(ctx, tx, *fd, -1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit removal of file diff %d: %w", id, err)
	}

	return fd, nil
}

// RescanLineCounts recomputes a DiffSet's totals by summing its FileDiff
// rows. It exists to verify the incrementally maintained rollup, not for
// steady-state use.
func (r *DiffSetRepo) RescanLineCounts(ctx context.Context, diffSetID int64) (model.LineCounts, error) {
	const query = `
		SELECT COALESCE(SUM(insert_count), 0), COALESCE(SUM(delete_count), 0),
		       COALESCE(SUM(replace_count), 0), COALESCE(SUM(equal_count), 0)
		FROM file_diffs
		WHERE diffset_id = ?
	`

	var c model.LineCounts
	err := r.db.Reader.QueryRowContext(ctx, query, diffSetID).Scan(&c.Inserts, &c.Deletes, &c.Replaces, &c.Equals)
	if err != nil {
		return model.LineCounts{}, fmt.Errorf("rescan line counts for diffset %d: %w", diffSetID, err)
	}

	return c, nil
}

// applyRollupDelta adjusts the cached counters on diff_sets (and the owning
// diff_commits row, if any) by sign times the file's counts.
func applyRollupDelta(ctx context.Context, tx *sql.Tx, fd model.FileDiff, sign int) error {
	const setQuery = `
		UPDATE diff_sets SET
			file_count = file_count + ?,
			insert_count = insert_count + ?,
			delete_count = delete_count + ?,
			replace_count = replace_count + ?,
			equal_count = equal_count + ?
		WHERE id = ?
	`
	_, err := tx.ExecContext(ctx, setQuery,
		sign, sign*fd.Counts.Inserts, sign*fd.Counts.Deletes, sign*fd.Counts.Replaces, sign*fd.Counts.Equals,
		fd.DiffSetID,
	)
	if err != nil {
		return fmt.Errorf("adjust rollup for diffset %d: %w", fd.DiffSetID, err)
	}

	if fd.CommitID == "" {
		return nil
	}

	const commitQuery = `
		UPDATE diff_commits SET
			insert_count = insert_count + ?,
			delete_count = delete_count + ?,
			replace_count = replace_count + ?,
			equal_count = equal_count + ?
		WHERE diffset_id = ? AND commit_id = ?
	`
	_, err = tx.ExecContext(ctx, commitQuery,
		sign*fd.Counts.Inserts, sign*fd.Counts.Deletes, sign*fd.Counts.Replaces, sign*fd.Counts.Equals,
		fd.DiffSetID, fd.CommitID,
	)
	if err != nil {
		return fmt.Errorf("adjust rollup for commit %s: %w", fd.CommitID, err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFileDiff(s scanner) (*model.FileDiff, error) {
	var fd model.FileDiff
	var status, blobHash, parentBlobHash, createdAt string

	err := s.Scan(
		&fd.ID, &fd.DiffSetID, &fd.CommitID, &fd.Position, &fd.SourcePath, &fd.DestPath,
		&fd.SourceRevision, &fd.DestRevision, &status, &blobHash, &parentBlobHash,
		&fd.Counts.Inserts, &fd.Counts.Deletes, &fd.Counts.Replaces, &fd.Counts.Equals,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	fd.Status = model.FileDiffStatus(status)
	fd.BlobHash = model.BlobRef(blobHash)
	fd.ParentBlobHash = model.BlobRef(parentBlobHash)

	fd.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &fd, nil
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
