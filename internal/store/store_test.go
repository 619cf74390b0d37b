package store

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), ":memory:", logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
}

func TestSaveSymbolsAndLoadAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	symbols := []symbolgraph.Symbol{
		{ID: "a.go:A", RepoID: "repo1", FilePath: "a.go", Name: "A", QualifiedName: "A", Kind: symbolgraph.KindFunction},
		{ID: "b.go:B", RepoID: "repo1", FilePath: "b.go", Name: "B", QualifiedName: "B", Kind: symbolgraph.KindFunction},
	}
	edges := []symbolgraph.Edge{
		{From: "a.go:A", To: "B", Kind: symbolgraph.EdgeCalls, RepoID: "repo1"},
	}

	require.NoError(t, s.SaveSymbols(ctx, "repo1", "main", symbols))
	require.NoError(t, s.SaveEdges(ctx, "repo1", "main", edges))

	gotSymbols, gotEdges, err := s.LoadAll(ctx, "repo1", "main")
	require.NoError(t, err)
	assert.Len(t, gotSymbols, 2)
	assert.Len(t, gotEdges, 1)

	// Re-saving the same symbol id upserts rather than duplicating.
	symbols[0].Signature = "func A()"
	require.NoError(t, s.SaveSymbols(ctx, "repo1", "main", symbols[:1]))
	gotSymbols, _, err = s.LoadAll(ctx, "repo1", "main")
	require.NoError(t, err)
	assert.Len(t, gotSymbols, 2)
}

func TestDeleteByFileRemovesEdgesAndEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	symbols := []symbolgraph.Symbol{
		{ID: "a.go:A", RepoID: "repo1", FilePath: "a.go", Name: "A", QualifiedName: "A", Kind: symbolgraph.KindFunction},
		{ID: "b.go:B", RepoID: "repo1", FilePath: "b.go", Name: "B", QualifiedName: "B", Kind: symbolgraph.KindFunction},
	}
	edges := []symbolgraph.Edge{
		{From: "a.go:A", To: "b.go:B", Kind: symbolgraph.EdgeCalls, RepoID: "repo1"},
	}
	require.NoError(t, s.SaveSymbols(ctx, "repo1", "main", symbols))
	require.NoError(t, s.SaveEdges(ctx, "repo1", "main", edges))
	require.NoError(t, s.UpsertEmbedding(ctx, "repo1", "a.go:A", []float32{1, 0, 0}))

	require.NoError(t, s.DeleteByFile(ctx, "repo1", "main", "a.go"))

	gotSymbols, gotEdges, err := s.LoadAll(ctx, "repo1", "main")
	require.NoError(t, err)
	assert.Len(t, gotSymbols, 1)
	assert.Empty(t, gotEdges)

	scored, err := s.SearchEmbeddings(ctx, "repo1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func TestEmbeddingDimensionChangeResets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertEmbedding(ctx, "repo1", "a.go:A", []float32{1, 0, 0}))
	dim, ok, err := s.EmbeddingDim(ctx, "repo1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, dim)

	require.NoError(t, s.UpsertEmbedding(ctx, "repo1", "b.go:B", []float32{1, 0, 0, 0, 0}))
	dim, ok, err = s.EmbeddingDim(ctx, "repo1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, dim)

	scored, err := s.SearchEmbeddings(ctx, "repo1", []float32{1, 0, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "b.go:B", scored[0].ID)
}

func TestBranchRegistrationIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	indexed, err := s.IsIndexedBranch(ctx, "repo1", "main")
	require.NoError(t, err)
	assert.False(t, indexed)

	require.NoError(t, s.RegisterBranch(ctx, BranchRef{RepoID: "repo1", Branch: "main", Platform: "github"}))
	indexed, err = s.IsIndexedBranch(ctx, "repo1", "main")
	require.NoError(t, err)
	assert.True(t, indexed)

	indexed, err = s.IsIndexedBranch(ctx, "repo1", "feature-x")
	require.NoError(t, err)
	assert.False(t, indexed)

	branches, err := s.ListBranches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "main", branches[0].Branch)
}

func TestIterationStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	iter, err := s.ReadIterationState(ctx, "repo1", 42, "github")
	require.NoError(t, err)
	assert.Equal(t, int64(0), iter)

	require.NoError(t, s.WriteIterationState(ctx, "repo1", 42, "github", 3))
	iter, err = s.ReadIterationState(ctx, "repo1", 42, "github")
	require.NoError(t, err)
	assert.Equal(t, int64(3), iter)

	require.NoError(t, s.WriteIterationState(ctx, "repo1", 42, "github", 4))
	iter, err = s.ReadIterationState(ctx, "repo1", 42, "github")
	require.NoError(t, err)
	assert.Equal(t, int64(4), iter)
}

func TestCommentFeedbackSearchByAcceptedSignal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveReview(ctx, Review{ID: "rev1", RepoID: "repo1", PRNumber: 7, Verdict: "approve"}))
	require.NoError(t, s.SaveComment(ctx, Comment{
		ID: "c1", ReviewID: "rev1", RepoID: "repo1", PRNumber: 7,
		Path: "a.go", Line: 10, Body: "looks risky", Severity: SeverityWarning,
		Embedding: []float32{1, 0},
	}))
	require.NoError(t, s.SaveComment(ctx, Comment{
		ID: "c2", ReviewID: "rev1", RepoID: "repo1", PRNumber: 7,
		Path: "b.go", Line: 20, Body: "fine", Severity: SeverityInfo,
		Embedding: []float32{0, 1},
	}))
	require.NoError(t, s.UpsertFeedback(ctx, "c1", "accepted"))
	require.NoError(t, s.UpsertFeedback(ctx, "c2", "rejected"))

	accepted, err := s.SearchComments(ctx, "repo1", []float32{1, 0}, true, 10)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "c1", accepted[0].ID)

	signal, ok, err := s.GetFeedback(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "accepted", signal)
}
