package driven

import "context"

// SCMBackend is the capability interface onto an SCM-specific file-fetching
// backend. It resolves symbolic revision tokens (PRE-CREATION, HEAD, and
// vendor-specific forms) extracted from patch headers into concrete,
// comparable revision identifiers, and supplies raw file content for a
// resolved revision. Concrete backends live outside this service.
type SCMBackend interface {
	ResolveRevision(ctx context.Context, path, token string) (string, error)
	GetFileContent(ctx context.Context, path, revision string) ([]byte, error)
}
