// Package parser defines the Parser Registry boundary: the review core
// never parses source itself, it dispatches a file to whichever language
// parser owns its extension and consumes a flat (symbols, edges) result.
// Tree-sitter grammars for other languages are out of scope for this core
// (see DESIGN.md) — Registry only needs a Parser implementation to exist
// per extension, not any particular parsing technology.
package parser

import (
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

// FileResult is what a Parser yields for one file.
type FileResult struct {
	Symbols []symbolgraph.Symbol
	Edges   []symbolgraph.Edge
}

// Parser owns one or more file extensions and turns file content into
// symbols and edges. Implementations are expected to produce stable ids
// (via symbolgraph.SymbolID) across runs for unchanged source text.
type Parser interface {
	// Extensions lists the file extensions this parser handles, e.g. ".go".
	Extensions() []string
	// Parse extracts symbols and edges from one file's content.
	Parse(path string, content []byte, repoID string) (*FileResult, error)
}

// Registry dispatches ParseFile calls to the Parser that owns a given
// file's extension.
type Registry struct {
	mu     sync.RWMutex
	byExt  map[string]Parser
	logger *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{byExt: make(map[string]Parser), logger: logger}
}

// Register wires a parser in for every extension it claims. A later
// registration for the same extension replaces the earlier one; an
// initialization failure upstream (e.g. a grammar that failed to load)
// simply means the caller never registers that language, and files of that
// extension are silently skipped by ParseFile.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.Extensions() {
		r.byExt[ext] = p
	}
}

// ParseFile dispatches by extension. An unknown extension returns
// (nil, nil) so the Indexer can silently skip it. A parse error is logged
// and treated the same way: the file is simply absent from the graph this
// round, it never aborts the caller.
func (r *Registry) ParseFile(path string, content []byte, repoID string) (*FileResult, error) {
	ext := filepath.Ext(path)

	r.mu.RLock()
	p, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	result, err := p.Parse(path, content, repoID)
	if err != nil {
		r.logger.WithError(err).WithField("path", path).Warn("parser: skipping file after parse error")
		return nil, nil
	}
	return result, nil
}

// KnownExtensions returns every extension currently dispatched, for
// diagnostics and for the Indexer's accept-set intersection.
func (r *Registry) KnownExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}
