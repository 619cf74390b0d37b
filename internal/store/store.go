// Package store is the durable row-based persistence layer: symbols,
// edges, per-(repo,branch) graph snapshots, vector embeddings, reviews,
// comments, feedback, and PR-iteration state. It supports sqlite for
// local/dev and Postgres for production behind one interface, keyed by
// (repoId, branch) everywhere the graph cache needs it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

// Common sentinel errors returned by Store implementations.
var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: conflict")
)

// BranchRef is one row of the repo_branches registration table.
type BranchRef struct {
	RepoID   string
	Branch   string
	Platform string
	RepoURL  string
}

// Review is a persisted review artifact.
type Review struct {
	ID           string
	RepoID       string
	PRNumber     int
	Verdict      string
	CommentCount int
	CreatedAt    time.Time
}

// Severity mirrors the comment severity enum from the data model.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Comment is a persisted inline review comment.
type Comment struct {
	ID         string
	ReviewID   string
	RepoID     string
	PRNumber   int
	Path       string
	Line       int
	Body       string
	Severity   Severity
	Confidence *float64
	Embedding  []float32
}

// ScoredID is one result of a nearest-neighbor embedding search.
type ScoredID struct {
	ID    string
	Score float64
}

// Store is the durable persistence boundary (C3). Every write happens in
// its own transaction unless documented otherwise.
type Store interface {
	Migrate(ctx context.Context) error

	// Graph rows. SaveSymbols upserts by (id, repoId, branch); SaveEdges
	// inserts without dedup.
	SaveSymbols(ctx context.Context, repoID, branch string, symbols []symbolgraph.Symbol) error
	SaveEdges(ctx context.Context, repoID, branch string, edges []symbolgraph.Edge) error
	// DeleteByFile removes symbols whose file matches, edges referencing
	// that file's symbol-id prefix, and embeddings for those symbol ids,
	// all within one transaction.
	DeleteByFile(ctx context.Context, repoID, branch, path string) error
	DeleteAllForBranch(ctx context.Context, repoID, branch string) error
	LoadAll(ctx context.Context, repoID, branch string) ([]symbolgraph.Symbol, []symbolgraph.Edge, error)

	SaveGraphSnapshot(ctx context.Context, repoID, branch string, data []byte) error
	LoadGraphSnapshot(ctx context.Context, repoID, branch string) ([]byte, bool, error)

	// Embeddings. UpsertEmbedding stores one symbol's vector. ResetEmbeddings
	// deletes every stored vector of one repo and records its new dimension;
	// the table itself is not dropped, and other repos' vectors are kept.
	UpsertEmbedding(ctx context.Context, repoID, symbolID string, vector []float32) error
	SearchEmbeddings(ctx context.Context, repoID string, query []float32, topK int) ([]ScoredID, error)
	EmbeddingDim(ctx context.Context, repoID string) (int, bool, error)
	ResetEmbeddings(ctx context.Context, repoID string, dim int) error

	// Branch registration. A pair absent from this table is "not indexed".
	RegisterBranch(ctx context.Context, ref BranchRef) error
	UnregisterBranch(ctx context.Context, repoID, branch string) error
	IsIndexedBranch(ctx context.Context, repoID, branch string) (bool, error)
	ListBranches(ctx context.Context) ([]BranchRef, error)

	// PR iteration / checkpoint state.
	ReadIterationState(ctx context.Context, repoID string, prNumber int, platform string) (int64, error)
	WriteIterationState(ctx context.Context, repoID string, prNumber int, platform string, iteration int64) error

	// Reviews and comments.
	SaveReview(ctx context.Context, review Review) error
	SaveComment(ctx context.Context, comment Comment) error
	SearchComments(ctx context.Context, repoID string, query []float32, accepted bool, topK int) ([]Comment, error)

	// Feedback.
	UpsertFeedback(ctx context.Context, commentID, signal string) error
	GetFeedback(ctx context.Context, commentID string) (string, bool, error)

	Close() error
}
