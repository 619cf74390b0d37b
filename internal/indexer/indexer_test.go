package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderisk/reviewcore/internal/embedding"
	"github.com/coderisk/reviewcore/internal/graphcache"
	"github.com/coderisk/reviewcore/internal/parser"
	"github.com/coderisk/reviewcore/internal/parser/goparser"
	"github.com/coderisk/reviewcore/internal/progress"
	"github.com/coderisk/reviewcore/internal/store"
)

const fileA = `package sample

func A() string {
	return B()
}
`

const fileB = `package sample

func B() string {
	return "b"
}
`

func newPipelineWithNoopEmbedder(t *testing.T) (*Pipeline, store.Store, *progress.Bus, string) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), ":memory:", logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := parser.NewRegistry(logrus.New())
	reg.Register(goparser.New())

	cache := graphcache.New(st, logrus.New())
	bus := progress.New()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte(fileA), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte(fileB), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "vendor", "skip.go"), []byte(fileA), 0o644))

	p := New(reg, st, cache, embedding.NewAdapter(), bus, logrus.New())
	return p, st, bus, root
}

func TestFullScanIndexesAllFilesAndSkipsDeniedDirs(t *testing.T) {
	ctx := context.Background()
	p, st, bus, root := newPipelineWithNoopEmbedder(t)

	result, err := p.FullScan(ctx, "repo1", "main", root)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesParsed)
	assert.GreaterOrEqual(t, result.SymbolsFound, 2)

	symbols, _, err := st.LoadAll(ctx, "repo1", "main")
	require.NoError(t, err)
	assert.Len(t, symbols, 2)

	prog, ok := bus.Get("repo1", "main")
	require.True(t, ok)
	assert.Equal(t, progress.PhaseDone, prog.Phase)
}

func TestIncrementalUpdateReplacesOnlyChangedFile(t *testing.T) {
	ctx := context.Background()
	p, st, _, root := newPipelineWithNoopEmbedder(t)

	_, err := p.FullScan(ctx, "repo1", "main", root)
	require.NoError(t, err)

	updatedA := `package sample

func A() string {
	return "changed"
}

func AHelper() string {
	return "helper"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte(updatedA), 0o644))

	result, err := p.IncrementalUpdate(ctx, "repo1", "main", root, []string{"a.go"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesParsed)

	symbols, _, err := st.LoadAll(ctx, "repo1", "main")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, s := range symbols {
		names[s.QualifiedName] = true
	}
	assert.True(t, names["AHelper"])
	assert.True(t, names["B"])
}
