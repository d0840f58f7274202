package types

import (
	"context"
	"iter"
)

// ArtifactStore is the create-only persistence contract for run artifacts.
type ArtifactStore interface {
	Create(ctx context.Context, artifact *RunArtifact) (RunID, error)
	Get(ctx context.Context, id RunID) (*RunArtifact, bool, error)
	GetRaw(ctx context.Context, id RunID) ([]byte, bool, error)
	Query(ctx context.Context, filter ArtifactFilter) iter.Seq2[*RunArtifact, error]
	AppendAdvisoryLink(ctx context.Context, id RunID, link *AdvisoryLink) error
	Advisories(ctx context.Context, id RunID) ([]*AdvisoryLink, error)
}

// ArtifactReader is the read side of ArtifactStore.
type ArtifactReader interface {
	Get(ctx context.Context, id RunID) (*RunArtifact, bool, error)
}

// SessionStore persists workflow sessions. Save fails with ErrConflict when
// the stored version differs from record.Version.
type SessionStore interface {
	Create(ctx context.Context, record *SessionRecord) error
	Get(ctx context.Context, id SessionID) (*SessionRecord, error)
	Save(ctx context.Context, record *SessionRecord) error
	List(ctx context.Context) ([]*SessionRecord, error)
}
