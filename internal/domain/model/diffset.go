package model

import "time"

// DiffSet is one complete revision of a change: an ordered collection of
// FileDiffs, optionally subdivided into DiffCommits. FileCount, CommitCount,
// and Counts are maintained incrementally as members are added or removed,
// never by rescanning in the steady state.
type DiffSet struct {
	ID             int64
	RevisionNumber int
	FileCount      int
	CommitCount    int
	Counts         LineCounts
	Warning        string // Non-empty when the diff was accepted on a degraded path.
	CreatedAt      time.Time
}

// DiffCommit groups a subset of a DiffSet's FileDiffs under one logical
// commit. ParentCommitIDs are the commit identifiers this commit depends on;
// each must correspond to another DiffCommit in the same DiffSet or be
// flagged external during validation.
type DiffCommit struct {
	ID              int64
	DiffSetID       int64
	CommitID        string
	Author          string
	CommitMessage   string
	ParentCommitIDs []string
	Counts          LineCounts
}
