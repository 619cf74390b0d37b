package symbolgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sym(file, name string, kind SymbolKind) Symbol {
	return Symbol{
		ID:            SymbolID(file, name),
		RepoID:        "repo1",
		FilePath:      file,
		Name:          name,
		QualifiedName: name,
		Kind:          kind,
	}
}

func TestRemoveFileIsTotal(t *testing.T) {
	g := New("repo1", "main")
	a := sym("a.go", "A", KindFunction)
	b := sym("b.go", "B", KindFunction)
	g.AddSymbol(a)
	g.AddSymbol(b)
	g.AddEdge(Edge{From: a.ID, To: b.ID, Kind: EdgeCalls, RepoID: "repo1"})
	g.AddEdge(Edge{From: b.ID, To: a.ID, Kind: EdgeCalls, RepoID: "repo1"})

	g.RemoveFile("a.go")

	_, ok := g.GetSymbol(a.ID)
	assert.False(t, ok)
	assert.Empty(t, g.SymbolsInFile("a.go"))
	assert.Empty(t, g.GetCallers(b.ID, 2))
	assert.Empty(t, g.GetCallees(b.ID, 2))

	g.mu.RLock()
	defer g.mu.RUnlock()
	_, hasOutgoing := g.outgoing[a.ID]
	_, hasIncoming := g.incoming[a.ID]
	assert.False(t, hasOutgoing)
	assert.False(t, hasIncoming)
	for _, ids := range g.shortNames {
		assert.NotContains(t, ids, a.ID)
	}
}

func TestCallerResolutionThroughBareNameEdgeBeforeSymbol(t *testing.T) {
	g := New("repo1", "main")
	a := sym("a.go", "A", KindFunction)
	g.AddSymbol(a)
	g.AddEdge(Edge{From: a.ID, To: "foo", Kind: EdgeCalls, RepoID: "repo1"})

	b := sym("b.go", "foo", KindFunction)
	g.AddSymbol(b)

	callers := g.GetCallers(b.ID, 1)
	require.Len(t, callers, 1)
	assert.Equal(t, a.ID, callers[0].ID)
}

func TestCallerResolutionThroughBareNameEdgeAfterSymbol(t *testing.T) {
	g := New("repo1", "main")
	b := sym("b.go", "foo", KindFunction)
	g.AddSymbol(b)
	a := sym("a.go", "A", KindFunction)
	g.AddSymbol(a)
	g.AddEdge(Edge{From: a.ID, To: "foo", Kind: EdgeCalls, RepoID: "repo1"})

	callers := g.GetCallers(b.ID, 1)
	require.Len(t, callers, 1)
	assert.Equal(t, a.ID, callers[0].ID)
}

func TestBlastRadiusMonotonic(t *testing.T) {
	g := New("repo1", "main")
	target := sym("t.go", "Target", KindFunction)
	g.AddSymbol(target)

	before := g.GetBlastRadius([]string{target.ID}).RiskScore

	caller1 := sym("c1.go", "Caller1", KindFunction)
	g.AddSymbol(caller1)
	g.AddEdge(Edge{From: caller1.ID, To: target.ID, Kind: EdgeCalls, RepoID: "repo1"})

	after := g.GetBlastRadius([]string{target.ID}).RiskScore
	assert.GreaterOrEqual(t, after, before)

	caller2 := sym("c2.go", "Caller2", KindFunction)
	g.AddSymbol(caller2)
	g.AddEdge(Edge{From: caller2.ID, To: target.ID, Kind: EdgeCalls, RepoID: "repo1"})

	final := g.GetBlastRadius([]string{target.ID}).RiskScore
	assert.GreaterOrEqual(t, final, after)
}

func TestSerializeRoundTrip(t *testing.T) {
	g := New("repo1", "main")
	a := sym("a.go", "A", KindFunction)
	b := sym("b.go", "B", KindFunction)
	g.AddSymbol(a)
	g.AddSymbol(b)
	g.AddEdge(Edge{From: a.ID, To: b.ID, Kind: EdgeCalls, RepoID: "repo1"})
	g.AddEdge(Edge{From: b.ID, To: "A", Kind: EdgeCalls, RepoID: "repo1"})

	data, err := g.Serialize()
	require.NoError(t, err)

	g2, err := Deserialize(data)
	require.NoError(t, err)

	assert.ElementsMatch(t, idsOf(g.GetAllSymbols()), idsOf(g2.GetAllSymbols()))
	assert.ElementsMatch(t, idsOf(g.GetCallers(b.ID, 1)), idsOf(g2.GetCallers(b.ID, 1)))
	assert.ElementsMatch(t, idsOf(g.GetCallers(a.ID, 1)), idsOf(g2.GetCallers(a.ID, 1)))
	assert.Equal(t, g.GetBlastRadius([]string{a.ID}).RiskScore, g2.GetBlastRadius([]string{a.ID}).RiskScore)
}

func idsOf(syms []*Symbol) []string {
	out := make([]string, len(syms))
	for i, s := range syms {
		out[i] = s.ID
	}
	return out
}

func TestAddSymbolIdempotentInFileMap(t *testing.T) {
	g := New("repo1", "main")
	a := sym("a.go", "A", KindFunction)
	g.AddSymbol(a)
	g.AddSymbol(a)
	assert.Len(t, g.SymbolsInFile("a.go"), 1)
}

func TestGetCalleesOneHopAndTwoHops(t *testing.T) {
	g := New("repo1", "main")
	a := sym("a.go", "A", KindFunction)
	b := sym("b.go", "B", KindFunction)
	c := sym("c.go", "C", KindFunction)
	g.AddSymbol(a)
	g.AddSymbol(b)
	g.AddSymbol(c)
	g.AddEdge(Edge{From: a.ID, To: b.ID, Kind: EdgeCalls, RepoID: "repo1"})
	g.AddEdge(Edge{From: b.ID, To: c.ID, Kind: EdgeCalls, RepoID: "repo1"})

	callees1 := g.GetCallees(a.ID, 1)
	require.Len(t, callees1, 1)
	assert.Equal(t, b.ID, callees1[0].ID)

	callees2 := g.GetCallees(a.ID, 2)
	assert.Len(t, callees2, 2)
}
