// Package graphcache holds the process-wide (repoId, branch) -> graph
// map (C6). Every review or indexing request reads from here instead of
// rebuilding a symbolgraph.Graph from the store on each call; warmup
// loads every registered branch concurrently at startup, mirroring the
// teacher's cache.Manager but keyed on the repo+branch pair the rest of
// this system threads through.
package graphcache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/coderisk/reviewcore/internal/store"
	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

// Entry is one cached graph. It holds only the graph; the store handle
// lives on Cache, and no indexer or retriever is kept per entry.
type Entry struct {
	Graph *symbolgraph.Graph
}

// Cache is the process-wide graph cache. The zero value is not usable;
// construct with New.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	store   store.Store
	logger  *logrus.Logger
}

// New creates an empty cache that loads graphs from st. Evictions only
// drop in-memory entries and do not touch st.
func New(st store.Store, logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	return &Cache{
		entries: make(map[string]*Entry),
		store:   st,
		logger:  logger,
	}
}

func key(repoID, branch string) string {
	return repoID + ":" + branch
}

// Get returns the cached graph for (repoID, branch) if present.
func (c *Cache) Get(repoID, branch string) (*symbolgraph.Graph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key(repoID, branch)]
	if !ok {
		return nil, false
	}
	return e.Graph, true
}

// Put installs g as the cached graph for (repoID, branch), replacing
// whatever was there.
func (c *Cache) Put(repoID, branch string, g *symbolgraph.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(repoID, branch)] = &Entry{Graph: g}
}

// Evict removes the cached graph for (repoID, branch), if any.
func (c *Cache) Evict(repoID, branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(repoID, branch))
}

// EvictRepo removes every cached graph for repoID regardless of branch —
// the branch-less form of eviction, used when a repository is fully
// deregistered rather than just having one branch reset.
func (c *Cache) EvictRepo(repoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := repoID + ":"
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// GetOrLoad returns the cached graph, loading it from the store's
// snapshot (falling back to a full symbol/edge replay) on a miss.
func (c *Cache) GetOrLoad(ctx context.Context, repoID, branch string) (*symbolgraph.Graph, error) {
	if g, ok := c.Get(repoID, branch); ok {
		return g, nil
	}

	g, err := c.loadFromStore(ctx, repoID, branch)
	if err != nil {
		return nil, err
	}
	c.Put(repoID, branch, g)
	return g, nil
}

func (c *Cache) loadFromStore(ctx context.Context, repoID, branch string) (*symbolgraph.Graph, error) {
	if data, ok, err := c.store.LoadGraphSnapshot(ctx, repoID, branch); err != nil {
		return nil, fmt.Errorf("graphcache: load snapshot: %w", err)
	} else if ok {
		g, err := symbolgraph.Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("graphcache: deserialize snapshot: %w", err)
		}
		return g, nil
	}

	symbols, edges, err := c.store.LoadAll(ctx, repoID, branch)
	if err != nil {
		return nil, fmt.Errorf("graphcache: load all: %w", err)
	}
	g := symbolgraph.New(repoID, branch)
	for _, s := range symbols {
		g.AddSymbol(s)
	}
	for _, e := range edges {
		g.AddEdge(e)
	}
	return g, nil
}

// Warmup loads every registered branch concurrently, logging and
// skipping any branch that fails to load rather than aborting the rest.
func (c *Cache) Warmup(ctx context.Context) error {
	branches, err := c.store.ListBranches(ctx)
	if err != nil {
		return fmt.Errorf("graphcache: warmup: list branches: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range branches {
		b := b
		g.Go(func() error {
			graph, err := c.loadFromStore(gctx, b.RepoID, b.Branch)
			if err != nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"repo_id": b.RepoID, "branch": b.Branch,
				}).Warn("graphcache: warmup: skipping branch after load error")
				return nil
			}
			c.Put(b.RepoID, b.Branch, graph)
			return nil
		})
	}
	return g.Wait()
}

// Len reports how many (repo, branch) pairs are currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
