// Package indexer drives the full-scan and incremental update pipelines
// (C5): walk a repository checkout, dispatch each file to the parser
// registry, fold the resulting symbols and edges into the graph and the
// durable store, and batch-embed the new symbols. Progress is published
// to the progress bus as each phase completes.
package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coderisk/reviewcore/internal/embedding"
	"github.com/coderisk/reviewcore/internal/errors"
	"github.com/coderisk/reviewcore/internal/graphcache"
	"github.com/coderisk/reviewcore/internal/parser"
	"github.com/coderisk/reviewcore/internal/progress"
	"github.com/coderisk/reviewcore/internal/store"
	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

const embedBatchSize = 32

// Pipeline runs full and incremental indexing jobs against one durable
// store, graph cache, and embedding adapter.
type Pipeline struct {
	registry *parser.Registry
	store    store.Store
	cache    *graphcache.Cache
	embedder embedding.Adapter
	bus      *progress.Bus
	logger   *logrus.Logger
}

// New creates an indexing pipeline.
func New(reg *parser.Registry, st store.Store, cache *graphcache.Cache, embedder embedding.Adapter, bus *progress.Bus, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{registry: reg, store: st, cache: cache, embedder: embedder, bus: bus, logger: logger}
}

// Result summarizes one indexing run.
type Result struct {
	RepoID       string
	Branch       string
	FilesWalked  int
	FilesParsed  int
	SymbolsFound int
	EdgesFound   int
	Duration     time.Duration
}

// FullScan walks every file under rootPath, replacing whatever graph and
// store rows existed for (repoID, branch).
func (p *Pipeline) FullScan(ctx context.Context, repoID, branch, rootPath string) (*Result, error) {
	start := time.Now()
	p.logger.WithFields(logrus.Fields{"repo_id": repoID, "branch": branch, "path": rootPath}).Info("indexer: starting full scan")

	if err := p.store.DeleteAllForBranch(ctx, repoID, branch); err != nil {
		return nil, errors.DatabaseErrorf(err, "indexer: full scan: clear branch")
	}
	p.cache.Evict(repoID, branch)

	g := symbolgraph.New(repoID, branch)
	result := &Result{RepoID: repoID, Branch: branch}

	files, err := WalkSourceFiles(rootPath, p.registry)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "indexer: full scan: walk")
	}

	p.publish(repoID, branch, progress.PhaseWalking, 0, 0, 0)

	var pendingSymbols []symbolgraph.Symbol
	var pendingEdges []symbolgraph.Edge

	for path := range files {
		result.FilesWalked++
		content, err := os.ReadFile(path)
		if err != nil {
			p.logger.WithError(err).WithField("path", path).Warn("indexer: skipping unreadable file")
			continue
		}

		relPath, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			relPath = path
		}
		fr, err := p.registry.ParseFile(relPath, content, repoID)
		if err != nil || fr == nil {
			continue
		}
		result.FilesParsed++

		for _, s := range fr.Symbols {
			g.AddSymbol(s)
			pendingSymbols = append(pendingSymbols, s)
		}
		for _, e := range fr.Edges {
			g.AddEdge(e)
			pendingEdges = append(pendingEdges, e)
		}

		result.SymbolsFound += len(fr.Symbols)
		result.EdgesFound += len(fr.Edges)

		if result.FilesWalked%50 == 0 {
			p.publish(repoID, branch, progress.PhaseParsing, result.FilesWalked, result.FilesWalked, result.SymbolsFound)
		}
	}

	if err := p.store.SaveSymbols(ctx, repoID, branch, pendingSymbols); err != nil {
		dbErr := errors.DatabaseErrorf(err, "indexer: full scan: save symbols")
		p.publishError(repoID, branch, dbErr)
		return nil, dbErr
	}
	if err := p.store.SaveEdges(ctx, repoID, branch, pendingEdges); err != nil {
		dbErr := errors.DatabaseErrorf(err, "indexer: full scan: save edges")
		p.publishError(repoID, branch, dbErr)
		return nil, dbErr
	}

	if err := p.embedSymbols(ctx, repoID, pendingSymbols); err != nil {
		p.publishError(repoID, branch, err)
		return nil, err
	}

	snap, err := g.Serialize()
	if err != nil {
		return nil, errors.InternalErrorf("indexer: full scan: serialize snapshot: %v", err)
	}
	if err := p.store.SaveGraphSnapshot(ctx, repoID, branch, snap); err != nil {
		return nil, errors.DatabaseErrorf(err, "indexer: full scan: save snapshot")
	}

	ref := store.BranchRef{RepoID: repoID, Branch: branch, Platform: platformFromRepoID(repoID)}
	if err := p.store.RegisterBranch(ctx, ref); err != nil {
		return nil, errors.DatabaseErrorf(err, "indexer: full scan: register branch")
	}

	p.cache.Put(repoID, branch, g)
	result.Duration = time.Since(start)
	p.publish(repoID, branch, progress.PhaseDone, result.FilesWalked, result.FilesWalked, result.SymbolsFound)

	p.logger.WithFields(logrus.Fields{
		"repo_id": repoID, "branch": branch, "files": result.FilesParsed,
		"symbols": result.SymbolsFound, "duration": result.Duration.String(),
	}).Info("indexer: full scan complete")

	return result, nil
}

// platformFromRepoID recovers the "github"/"gitlab" prefix from a repoID
// of the form "<platform>:<owner>/<name>", the convention the webhook
// gateway and CLI both construct repoIDs with.
func platformFromRepoID(repoID string) string {
	if i := strings.Index(repoID, ":"); i >= 0 {
		return repoID[:i]
	}
	return ""
}

// IncrementalUpdate re-parses only changedFiles, removing their prior
// symbols/edges from the cached graph and store before re-adding the
// freshly parsed ones.
func (p *Pipeline) IncrementalUpdate(ctx context.Context, repoID, branch, rootPath string, changedFiles []string) (*Result, error) {
	start := time.Now()
	result := &Result{RepoID: repoID, Branch: branch}

	g, err := p.cache.GetOrLoad(ctx, repoID, branch)
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "indexer: incremental update: load graph")
	}

	var pendingSymbols []symbolgraph.Symbol
	var pendingEdges []symbolgraph.Edge

	for _, relPath := range changedFiles {
		g.RemoveFile(relPath)
		if err := p.store.DeleteByFile(ctx, repoID, branch, relPath); err != nil {
			return nil, errors.DatabaseErrorf(err, "indexer: incremental update: delete %s", relPath)
		}

		fullPath := rootPath + string(os.PathSeparator) + relPath
		content, err := os.ReadFile(fullPath)
		if err != nil {
			// File was deleted on disk — removal above is the whole update.
			continue
		}

		result.FilesWalked++
		fr, err := p.registry.ParseFile(relPath, content, repoID)
		if err != nil || fr == nil {
			continue
		}
		result.FilesParsed++

		for _, s := range fr.Symbols {
			g.AddSymbol(s)
			pendingSymbols = append(pendingSymbols, s)
		}
		for _, e := range fr.Edges {
			g.AddEdge(e)
			pendingEdges = append(pendingEdges, e)
		}
		result.SymbolsFound += len(fr.Symbols)
		result.EdgesFound += len(fr.Edges)
	}

	if err := p.store.SaveSymbols(ctx, repoID, branch, pendingSymbols); err != nil {
		return nil, errors.DatabaseErrorf(err, "indexer: incremental update: save symbols")
	}
	if err := p.store.SaveEdges(ctx, repoID, branch, pendingEdges); err != nil {
		return nil, errors.DatabaseErrorf(err, "indexer: incremental update: save edges")
	}
	if err := p.embedSymbols(ctx, repoID, pendingSymbols); err != nil {
		return nil, err
	}

	snap, err := g.Serialize()
	if err != nil {
		return nil, errors.InternalErrorf("indexer: incremental update: serialize snapshot: %v", err)
	}
	if err := p.store.SaveGraphSnapshot(ctx, repoID, branch, snap); err != nil {
		return nil, errors.DatabaseErrorf(err, "indexer: incremental update: save snapshot")
	}

	p.cache.Put(repoID, branch, g)
	result.Duration = time.Since(start)
	p.publish(repoID, branch, progress.PhaseDone, result.FilesWalked, result.FilesWalked, result.SymbolsFound)
	return result, nil
}

func (p *Pipeline) embedSymbols(ctx context.Context, repoID string, symbols []symbolgraph.Symbol) error {
	if len(symbols) == 0 || p.embedder == nil {
		return nil
	}

	for start := 0; start < len(symbols); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = embedding.SymbolText(s)
		}

		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return errors.ExternalErrorf(err, "indexer: embed batch")
		}
		for i, s := range batch {
			if err := p.store.UpsertEmbedding(ctx, repoID, s.ID, vectors[i]); err != nil {
				return errors.DatabaseErrorf(err, "indexer: upsert embedding for %s", s.ID)
			}
		}
	}
	return nil
}

func (p *Pipeline) publish(repoID, branch string, phase progress.Phase, total, done, symbols int) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(progress.IndexProgress{
		RepoID: repoID, Branch: branch, Phase: phase,
		FilesTotal: total, FilesDone: done, SymbolsFound: symbols,
	})
}

func (p *Pipeline) publishError(repoID, branch string, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(progress.IndexProgress{
		RepoID: repoID, Branch: branch, Phase: progress.PhaseFailed, Error: err.Error(),
	})
}
