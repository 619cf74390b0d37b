// Package retriever assembles the review context for one pull/merge
// request: which symbols actually changed, their caller/callee
// neighborhood in the graph, and — in deep mode — a set of semantically
// related symbols found by an independent vector search against the
// embedding store. It runs as a step-logged pipeline over
// symbolgraph.Graph lookups.
package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/coderisk/reviewcore/internal/embedding"
	"github.com/coderisk/reviewcore/internal/store"
	"github.com/coderisk/reviewcore/internal/symbolgraph"
	"github.com/coderisk/reviewcore/internal/vcs"
)

// Retriever builds review Context values against one graph.
type Retriever struct {
	embedder embedding.Adapter
	store    store.Store
	logger   *logrus.Logger
}

// New creates a Retriever. embedder and store may be nil when deep mode
// will never be requested.
func New(embedder embedding.Adapter, st store.Store, logger *logrus.Logger) *Retriever {
	if logger == nil {
		logger = logrus.New()
	}
	return &Retriever{embedder: embedder, store: st, logger: logger}
}

// NeighborKind says whether a RankedSymbol was reached by walking
// incoming (caller) or outgoing (callee) edges from a changed symbol.
type NeighborKind int

const (
	NeighborCaller NeighborKind = iota
	NeighborCallee
)

// RankedSymbol pairs a neighborhood symbol with how it was surfaced.
type RankedSymbol struct {
	Symbol        *symbolgraph.Symbol
	Kind          NeighborKind
	GraphDistance int
	SemanticScore float64
}

// Context is the assembled retrieval result for one PR/MR.
type Context struct {
	ChangedSymbols    []*symbolgraph.Symbol
	Neighbors         []RankedSymbol
	SemanticNeighbors []RankedSymbol
	BlastRadius       symbolgraph.BlastRadius
}

// BuildContext finds the symbols touched by diff's changed lines in g,
// their callers out to hops, and their callees out to 1 hop.
func (r *Retriever) BuildContext(g *symbolgraph.Graph, diff *vcs.Diff, hops int) (*Context, error) {
	r.logger.WithField("files", len(diff.Files)).Debug("retriever: [STEP 1] locating changed symbols")

	changed := r.changedSymbols(g, diff)
	if len(changed) == 0 {
		r.logger.Debug("retriever: no symbols overlap the diff's changed lines")
		return &Context{}, nil
	}

	r.logger.WithField("count", len(changed)).Debug("retriever: [STEP 2] expanding caller/callee neighborhood")

	callerDistance := make(map[string]int)
	calleeDistance := make(map[string]int)
	bySymbolID := make(map[string]*symbolgraph.Symbol)
	excluded := changedIDs(changed)
	for _, s := range changed {
		bySymbolID[s.ID] = s
		callers, callerDepth := g.CallersWithDepth(s.ID, hops)
		for _, caller := range callers {
			if _, isChanged := excluded[caller.ID]; isChanged {
				continue
			}
			recordNearest(callerDistance, caller.ID, callerDepth[caller.ID])
			bySymbolID[caller.ID] = caller
		}
		// Callees are bounded to 1 hop regardless of the caller depth
		// budget; a changed function's direct callees matter, but
		// walking further out the call graph adds noise faster than
		// signal.
		callees, _ := g.CalleesWithDepth(s.ID, 1)
		for _, callee := range callees {
			if _, isChanged := excluded[callee.ID]; isChanged {
				continue
			}
			recordNearest(calleeDistance, callee.ID, 1)
			bySymbolID[callee.ID] = callee
		}
	}

	var neighbors []RankedSymbol
	for id, dist := range callerDistance {
		neighbors = append(neighbors, RankedSymbol{Symbol: bySymbolID[id], Kind: NeighborCaller, GraphDistance: dist})
	}
	for id, dist := range calleeDistance {
		neighbors = append(neighbors, RankedSymbol{Symbol: bySymbolID[id], Kind: NeighborCallee, GraphDistance: dist})
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Symbol.ID != neighbors[j].Symbol.ID {
			return neighbors[i].Symbol.ID < neighbors[j].Symbol.ID
		}
		return neighbors[i].Kind < neighbors[j].Kind
	})

	ids := make([]string, len(changed))
	for i, s := range changed {
		ids[i] = s.ID
	}

	r.logger.WithField("neighbors", len(neighbors)).Debug("retriever: [STEP 3] computing blast radius")
	return &Context{
		ChangedSymbols: changed,
		Neighbors:      neighbors,
		BlastRadius:    g.GetBlastRadius(ids),
	}, nil
}

// SemanticNeighbors finds symbols outside the known caller/callee
// neighborhood that are semantically close to the PR's changed symbols:
// it embeds each changed symbol's signature/doc text, averages the
// vectors into one query, searches the vector store for 3*topK
// candidates, and reranks by cosine similarity weighted by inverse
// graph distance to any changed symbol (symbols nearer the edit matter
// more at equal semantic score). Candidates already present in rc
// (changed, caller, or callee) are skipped — they are already surfaced.
// Requires both an embedder and a store; returns (nil, nil) otherwise.
func (r *Retriever) SemanticNeighbors(ctx context.Context, g *symbolgraph.Graph, repoID string, rc *Context, topK int) ([]RankedSymbol, error) {
	if r.embedder == nil || r.store == nil || len(rc.ChangedSymbols) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	known := make(map[string]struct{}, len(rc.ChangedSymbols)+len(rc.Neighbors))
	for _, s := range rc.ChangedSymbols {
		known[s.ID] = struct{}{}
	}
	for _, n := range rc.Neighbors {
		known[n.Symbol.ID] = struct{}{}
	}

	texts := make([]string, len(rc.ChangedSymbols))
	for i, s := range rc.ChangedSymbols {
		texts[i] = embedding.SymbolText(*s)
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("retriever: embed changed symbols: %w", err)
	}
	query := averageVectors(vecs)

	candidates, err := r.store.SearchEmbeddings(ctx, repoID, query, 3*topK)
	if err != nil {
		return nil, fmt.Errorf("retriever: search embeddings: %w", err)
	}

	var ranked []RankedSymbol
	for _, c := range candidates {
		if _, isKnown := known[c.ID]; isKnown {
			continue
		}
		sym, ok := g.GetSymbol(c.ID)
		if !ok {
			continue
		}
		ranked = append(ranked, RankedSymbol{
			Symbol:        sym,
			GraphDistance: minGraphDistance(g, c.ID, rc.ChangedSymbols),
			SemanticScore: c.Score,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		return semanticCombinedScore(ranked[i]) > semanticCombinedScore(ranked[j])
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// minGraphDistance is the fewest caller/callee hops (capped at 2, else
// 3 meaning "not nearby") from candidateID to any symbol in changed.
func minGraphDistance(g *symbolgraph.Graph, candidateID string, changed []*symbolgraph.Symbol) int {
	best := 3
	for _, c := range changed {
		_, callerDepth := g.CallersWithDepth(c.ID, 2)
		if dist, ok := callerDepth[candidateID]; ok && dist < best {
			best = dist
		}
		_, calleeDepth := g.CalleesWithDepth(c.ID, 2)
		if dist, ok := calleeDepth[candidateID]; ok && dist < best {
			best = dist
		}
	}
	return best
}

// semanticCombinedScore is cosine similarity weighted by inverse graph
// distance, per the deep-retrieval rerank formula.
func semanticCombinedScore(n RankedSymbol) float64 {
	return n.SemanticScore * (1.0 / float64(n.GraphDistance+1))
}

func averageVectors(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	avg := make([]float32, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			avg[i] += v[i]
		}
	}
	n := float32(len(vecs))
	for i := range avg {
		avg[i] /= n
	}
	return avg
}

func recordNearest(m map[string]int, id string, dist int) {
	if cur, ok := m[id]; !ok || dist < cur {
		m[id] = dist
	}
}

func changedIDs(changed []*symbolgraph.Symbol) map[string]struct{} {
	out := make(map[string]struct{}, len(changed))
	for _, s := range changed {
		out[s.ID] = struct{}{}
	}
	return out
}

// changedSymbols returns the symbols in g whose file and line range
// overlap diff's changed (added) lines.
func (r *Retriever) changedSymbols(g *symbolgraph.Graph, diff *vcs.Diff) []*symbolgraph.Symbol {
	var out []*symbolgraph.Symbol
	for _, f := range diff.Files {
		changedLines := f.ChangedLines()
		for _, sym := range g.SymbolsInFile(f.Path) {
			if symbolOverlapsLines(sym, changedLines) {
				out = append(out, sym)
			}
		}
	}
	return out
}

func symbolOverlapsLines(sym *symbolgraph.Symbol, changedLines map[int]bool) bool {
	for line := range changedLines {
		if line >= sym.StartLine && line <= sym.EndLine {
			return true
		}
	}
	return false
}
