package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dmarchant/patchvault/internal/diffparser"
	"github.com/dmarchant/patchvault/internal/domain/model"
	"github.com/dmarchant/patchvault/internal/domain/port/driven"
	"github.com/dmarchant/patchvault/internal/graph"
)

// CommitInput describes one logical commit of a multi-commit submission.
// FileLabels lists the boundary labels of the files belonging to this
// commit; labels not claimed by any commit produce FileDiffs with no commit.
type CommitInput struct {
	CommitID        string
	Author          string
	CommitMessage   string
	ParentCommitIDs []string
	FileLabels      []string
}

// IngestRequest carries everything needed to ingest one DiffSet: the raw
// patch text, the externally produced file-boundary list, and the optional
// commit grouping. AllowBrokenChain opts in to the degraded path where a
// broken dependency chain is recorded as a warning instead of rejecting
// the submission.
type IngestRequest struct {
	RevisionNumber   int
	PatchText        string
	Boundaries       []diffparser.FileBoundary
	Commits          []CommitInput
	RootCommitID     string
	AllowBrokenChain bool
}

// IngestService runs the synchronous, request-scoped ingestion pipeline:
// lex, parse (fanned out across a bounded worker pool), count lines,
// validate the commit dependency graph, then store blobs and FileDiff
// records. Ingestion is atomic: any failure triggers compensating blob
// releases and removal of the partially built DiffSet.
type IngestService struct {
	blobs   driven.BlobStore
	diffs   driven.DiffStore
	scm     driven.SCMBackend // Optional; nil leaves revision tokens unresolved.
	workers int
	logger  *slog.Logger
}

// NewIngestService creates an IngestService. workers bounds the per-file
// parse fan-out; values below 1 are treated as 1. scm may be nil.
func NewIngestService(
	blobs driven.BlobStore,
	diffs driven.DiffStore,
	scm driven.SCMBackend,
	workers int,
	logger *slog.Logger,
) *IngestService {
	if workers < 1 {
		workers = 1
	}
	return &IngestService{
		blobs:   blobs,
		diffs:   diffs,
		scm:     scm,
		workers: workers,
		logger:  logger,
	}
}

// Ingest processes one patch submission into a persisted DiffSet. FileDiffs
// are created in the order their spans appeared in the source patch.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (*model.DiffSet, error) {
	spans, err := diffparser.Lex(req.PatchText, req.Boundaries)
	if err != nil {
		return nil, err
	}

	parsed, counts, err := s.parseSpans(req.PatchText, spans)
	if err != nil {
		return nil, err
	}

	var warning string
	if len(req.Commits) > 0 {
		if err := ValidateCommitGraph(req.RootCommitID, req.Commits); err != nil {
			if !req.AllowBrokenChain {
				return nil, err
			}
			warning = err.Error()
			s.logger.Warn("ingesting diffset with broken dependency chain", "warning", warning)
		}
	}

	diffSetID, err := s.diffs.CreateDiffSet(ctx, model.DiffSet{
		RevisionNumber: req.RevisionNumber,
		Warning:        warning,
	})
	if err != nil {
		return nil, fmt.Errorf("create diffset: %w", err)
	}

	commitByLabel := make(map[string]string)
	for _, c := range req.Commits {
		if _, err := s.diffs.AddCommit(ctx, model.DiffCommit{
			DiffSetID:       diffSetID,
			CommitID:        c.CommitID,
			Author:          c.Author,
			CommitMessage:   c.CommitMessage,
			ParentCommitIDs: c.ParentCommitIDs,
		}); err != nil {
			s.rollback(ctx, diffSetID, nil)
			return nil, fmt.Errorf("add commit %s: %w", c.CommitID, err)
		}
		for _, label := range c.FileLabels {
			commitByLabel[label] = c.CommitID
		}
	}

	// Blob storage and record creation. putRefs tracks every successful Put
	// so a failure anywhere can release exactly what was acquired.
	var putRefs []model.BlobRef
	for i, p := range parsed {
		ref, err := s.blobs.Put(ctx, p.RawText)
		if err != nil {
			s.rollback(ctx, diffSetID, putRefs)
			return nil, fmt.Errorf("store blob for %s: %w", p.NewPath, err)
		}
		putRefs = append(putRefs, ref)

		sourceRev, destRev, err := s.resolveRevisions(ctx, p)
		if err != nil {
			s.rollback(ctx, diffSetID, putRefs)
			return nil, err
		}

		fd := model.FileDiff{
			DiffSetID:      diffSetID,
			CommitID:       commitByLabel[spans[i].Label],
			Position:       i,
			SourcePath:     p.OrigPath,
			DestPath:       p.NewPath,
			SourceRevision: sourceRev,
			DestRevision:   destRev,
			Status:         deriveStatus(p),
			BlobHash:       ref,
			Counts:         counts[i],
		}
		if _, err := s.diffs.AddFileDiff(ctx, fd); err != nil {
			s.rollback(ctx, diffSetID, putRefs)
			return nil, fmt.Errorf("add file diff %s: %w", p.NewPath, err)
		}
	}

	ds, err := s.diffs.GetDiffSet(ctx, diffSetID)
	if err != nil {
		return nil, fmt.Errorf("load ingested diffset %d: %w", diffSetID, err)
	}

	s.logger.Info("diffset ingested",
		"diffset_id", diffSetID,
		"revision", req.RevisionNumber,
		"files", ds.FileCount,
		"commits", ds.CommitCount,
	)

	return ds, nil
}

// Delete removes a DiffSet and releases every blob reference its FileDiffs
// held, keeping the reference-count invariant intact on the delete path.
func (s *IngestService) Delete(ctx context.Context, diffSetID int64) error {
	refs, err := s.diffs.DeleteDiffSet(ctx, diffSetID)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if err := s.blobs.Release(ctx, ref); err != nil {
			return fmt.Errorf("release blob for deleted diffset %d: %w", diffSetID, err)
		}
	}

	return nil
}

// TotalLineCounts returns a DiffSet's cached aggregate counts plus the
// derived total line count. A missing or empty DiffSet yields all zeros.
func (s *IngestService) TotalLineCounts(ctx context.Context, diffSetID int64) (model.LineCounts, int, error) {
	ds, err := s.diffs.GetDiffSet(ctx, diffSetID)
	if err != nil {
		return model.LineCounts{}, 0, err
	}
	if ds == nil {
		return model.LineCounts{}, 0, nil
	}
	return ds.Counts, ds.Counts.Total(), nil
}

// parseSpans fans per-file parsing and line counting out across the worker
// pool and joins before returning. Results keep span order regardless of
// completion order.
func (s *IngestService) parseSpans(text string, spans []diffparser.Span) ([]model.ParsedFileDiff, []model.LineCounts, error) {
	lines := diffparser.SplitLines(text)
	parsed := make([]model.ParsedFileDiff, len(spans))
	counts := make([]model.LineCounts, len(spans))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, span := range spans {
		g.Go(func() error {
			fd, err := diffparser.ParseSpan(lines, i, span)
			if err != nil {
				return err
			}
			parsed[i] = *fd
			counts[i] = diffparser.CountLines(fd.RawText, fd.IsBinary)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return parsed, counts, nil
}

// resolveRevisions maps the opaque header revision tokens to concrete
// revision identifiers through the SCM backend. Without a backend the
// tokens pass through untouched.
func (s *IngestService) resolveRevisions(ctx context.Context, p model.ParsedFileDiff) (string, string, error) {
	if s.scm == nil {
		return p.OrigInfo, p.NewInfo, nil
	}

	sourceRev, err := s.scm.ResolveRevision(ctx, p.OrigPath, p.OrigInfo)
	if err != nil {
		return "", "", fmt.Errorf("resolve source revision for %s: %w", p.OrigPath, err)
	}
	destRev, err := s.scm.ResolveRevision(ctx, p.NewPath, p.NewInfo)
	if err != nil {
		return "", "", fmt.Errorf("resolve dest revision for %s: %w", p.NewPath, err)
	}

	return sourceRev, destRev, nil
}

// rollback undoes a partially completed ingestion: every successful blob
// Put is released (this also covers refs held by FileDiffs already added,
// so refs returned by DeleteDiffSet are deliberately ignored), then the
// DiffSet row and its children are removed.
func (s *IngestService) rollback(ctx context.Context, diffSetID int64, putRefs []model.BlobRef) {
	for _, ref := range putRefs {
		if err := s.blobs.Release(ctx, ref); err != nil {
			s.logger.Error("compensating blob release failed", "ref", ref, "error", err)
		}
	}

	if _, err := s.diffs.DeleteDiffSet(ctx, diffSetID); err != nil {
		s.logger.Error("rollback of partial diffset failed", "diffset_id", diffSetID, "error", err)
	}
}

// ValidateCommitGraph checks that every commit of a multi-commit submission
// is reachable from the root commit by following parent-to-child edges.
// Parents that name no commit in the submission are treated as external and
// excluded from the graph. Returns a DependencyChainBrokenError naming the
// first unreachable commit (in sorted order) when the chain is broken.
func ValidateCommitGraph(root string, commits []CommitInput) error {
	known := make(map[string]bool, len(commits))
	for _, c := range commits {
		known[c.CommitID] = true
	}

	adjacency := make(map[string][]string, len(commits))
	for _, c := range commits {
		if _, ok := adjacency[c.CommitID]; !ok {
			adjacency[c.CommitID] = nil
		}
		for _, parent := range c.ParentCommitIDs {
			if !known[parent] {
				continue // External parent; not part of this DiffSet's graph.
			}
			adjacency[parent] = append(adjacency[parent], c.CommitID)
		}
	}

	for _, v := range graph.Unreachable(root, adjacency) {
		if known[v] {
			return &model.DependencyChainBrokenError{CommitID: v}
		}
	}

	return nil
}

// deriveStatus classifies a parsed file diff. Binary spans carry the vendor
// action code in NewInfo; text diffs are classified from paths and the
// PRE-CREATION token, with git-style a/ and b/ prefixes stripped before
// comparing.
func deriveStatus(p model.ParsedFileDiff) model.FileDiffStatus {
	if p.IsBinary {
		switch p.NewInfo {
		case "A":
			return model.FileDiffAdded
		case "D":
			return model.FileDiffDeleted
		default:
			return model.FileDiffModified
		}
	}

	switch {
	case p.OrigInfo == "PRE-CREATION" || p.OrigPath == "/dev/null":
		return model.FileDiffAdded
	case p.NewPath == "/dev/null":
		return model.FileDiffDeleted
	case stripDiffPrefix(p.OrigPath) != stripDiffPrefix(p.NewPath):
		return model.FileDiffMoved
	default:
		return model.FileDiffModified
	}
}

func stripDiffPrefix(path string) string {
	if rest, ok := strings.CutPrefix(path, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(path, "b/"); ok {
		return rest
	}
	return path
}
