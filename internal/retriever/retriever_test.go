package retriever

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderisk/reviewcore/internal/embedding"
	"github.com/coderisk/reviewcore/internal/store"
	"github.com/coderisk/reviewcore/internal/symbolgraph"
	"github.com/coderisk/reviewcore/internal/vcs"
)

func buildTestGraph() *symbolgraph.Graph {
	g := symbolgraph.New("repo1", "main")
	a := symbolgraph.Symbol{ID: "a.go:A", RepoID: "repo1", FilePath: "a.go", Name: "A", QualifiedName: "A", Kind: symbolgraph.KindFunction, StartLine: 1, EndLine: 5}
	b := symbolgraph.Symbol{ID: "b.go:B", RepoID: "repo1", FilePath: "b.go", Name: "B", QualifiedName: "B", Kind: symbolgraph.KindFunction, StartLine: 1, EndLine: 3}
	c := symbolgraph.Symbol{ID: "c.go:C", RepoID: "repo1", FilePath: "c.go", Name: "C", QualifiedName: "C", Kind: symbolgraph.KindFunction, StartLine: 1, EndLine: 3}
	g.AddSymbol(a)
	g.AddSymbol(b)
	g.AddSymbol(c)
	g.AddEdge(symbolgraph.Edge{From: a.ID, To: b.ID, Kind: symbolgraph.EdgeCalls, RepoID: "repo1"})
	g.AddEdge(symbolgraph.Edge{From: b.ID, To: c.ID, Kind: symbolgraph.EdgeCalls, RepoID: "repo1"})
	return g
}

const diffTouchingA = `diff --git a/a.go b/a.go
--- a/a.go
+++ b/a.go
@@ -1,3 +1,4 @@
 package sample
-func A() {}
+func A() {
+}
`

func TestBuildContextFindsChangedSymbolAndNeighbors(t *testing.T) {
	g := buildTestGraph()
	diff, err := vcs.ParseUnifiedDiff(diffTouchingA)
	require.NoError(t, err)

	r := New(nil, nil, logrus.New())
	ctxResult, err := r.BuildContext(g, diff, 2)
	require.NoError(t, err)

	require.Len(t, ctxResult.ChangedSymbols, 1)
	assert.Equal(t, "A", ctxResult.ChangedSymbols[0].Name)

	kinds := map[string]NeighborKind{}
	for _, n := range ctxResult.Neighbors {
		kinds[n.Symbol.Name] = n.Kind
	}
	// B is A's direct callee (bounded to 1 hop); C is two call-edges away
	// from A and is never reached since callees are capped at 1 hop.
	kind, ok := kinds["B"]
	assert.True(t, ok)
	assert.Equal(t, NeighborCallee, kind)
	_, ok = kinds["C"]
	assert.False(t, ok)
}

func TestSemanticNeighborsIsNoOpWithoutEmbedderOrStore(t *testing.T) {
	g := buildTestGraph()
	rc := &Context{ChangedSymbols: []*symbolgraph.Symbol{{ID: "a.go:A", Name: "A"}}}
	r := New(nil, nil, logrus.New())
	out, err := r.SemanticNeighbors(context.Background(), g, "repo1", rc, 5)
	require.NoError(t, err)
	assert.Nil(t, out)
}

type fakeEmbeddingStore struct {
	store.Store
	results []store.ScoredID
}

func (f *fakeEmbeddingStore) SearchEmbeddings(ctx context.Context, repoID string, query []float32, topK int) ([]store.ScoredID, error) {
	return f.results, nil
}

func TestSemanticNeighborsSkipsKnownAndRanksByGraphDistance(t *testing.T) {
	g := buildTestGraph()
	d := symbolgraph.Symbol{ID: "d.go:D", RepoID: "repo1", FilePath: "d.go", Name: "D", QualifiedName: "D", Kind: symbolgraph.KindFunction, StartLine: 1, EndLine: 3}
	g.AddSymbol(d)

	st := &fakeEmbeddingStore{results: []store.ScoredID{
		{ID: "b.go:B", Score: 0.99}, // already known (callee) — must be skipped
		{ID: "d.go:D", Score: 0.5},  // unrelated by graph — minGraphDistance defaults to 3
	}}
	r := New(embedding.NewAdapter(), st, logrus.New())

	a, _ := g.GetSymbol("a.go:A")
	b, _ := g.GetSymbol("b.go:B")
	rc := &Context{
		ChangedSymbols: []*symbolgraph.Symbol{a},
		Neighbors:      []RankedSymbol{{Symbol: b, Kind: NeighborCallee, GraphDistance: 1}},
	}

	out, err := r.SemanticNeighbors(context.Background(), g, "repo1", rc, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "D", out[0].Symbol.Name)
	assert.Equal(t, 3, out[0].GraphDistance)
}
