package symbolgraph

import "encoding/json"

// snapshot is the wire format written to the durable store's snapshot row.
// It is intentionally dedup-free: every symbol and every edge as inserted,
// no attempt to collapse duplicates.
type snapshot struct {
	RepoID  string   `json:"repoId"`
	Branch  string   `json:"branch"`
	Symbols []Symbol `json:"symbols"`
	Edges   []Edge   `json:"edges"`
}

// Serialize produces a compact JSON representation of the full symbol and
// edge lists. Round-tripping through Deserialize yields a graph that is
// observationally indistinguishable under every read operation.
func (g *Graph) Serialize() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := snapshot{RepoID: g.RepoID, Branch: g.Branch}
	for _, s := range g.symbols {
		snap.Symbols = append(snap.Symbols, *s)
	}
	seen := map[*edgeRecord]bool{}
	for _, list := range g.outgoing {
		for _, er := range list {
			if seen[er] {
				continue
			}
			seen[er] = true
			snap.Edges = append(snap.Edges, er.Edge)
		}
	}

	return json.Marshal(snap)
}

// Deserialize rebuilds a Graph from Serialize's output.
func Deserialize(data []byte) (*Graph, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}

	g := New(snap.RepoID, snap.Branch)
	for _, s := range snap.Symbols {
		g.AddSymbol(s)
	}
	for _, e := range snap.Edges {
		g.AddEdge(e)
	}
	return g, nil
}
