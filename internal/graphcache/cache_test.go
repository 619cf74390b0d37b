package graphcache

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderisk/reviewcore/internal/store"
	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

func newTestCache(t *testing.T) (*Cache, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), ":memory:", logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, logrus.New()), st
}

func TestGetOrLoadCachesOnMiss(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCache(t)

	require.NoError(t, st.SaveSymbols(ctx, "repo1", "main", []symbolgraph.Symbol{
		{ID: "a.go:A", RepoID: "repo1", FilePath: "a.go", Name: "A", QualifiedName: "A", Kind: symbolgraph.KindFunction},
	}))

	_, ok := c.Get("repo1", "main")
	assert.False(t, ok)

	g, err := c.GetOrLoad(ctx, "repo1", "main")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get("repo1", "main")
	assert.True(t, ok)
}

func TestEvictRemovesEntry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	c.Put("repo1", "main", symbolgraph.New("repo1", "main"))
	assert.Equal(t, 1, c.Len())

	c.Evict("repo1", "main")
	assert.Equal(t, 0, c.Len())

	_, ok := c.Get("repo1", "main")
	assert.False(t, ok)
	_ = ctx
}

func TestWarmupLoadsRegisteredBranches(t *testing.T) {
	ctx := context.Background()
	c, st := newTestCache(t)

	require.NoError(t, st.RegisterBranch(ctx, store.BranchRef{RepoID: "repo1", Branch: "main", Platform: "github"}))
	require.NoError(t, st.RegisterBranch(ctx, store.BranchRef{RepoID: "repo2", Branch: "main", Platform: "gitlab"}))

	require.NoError(t, c.Warmup(ctx))
	assert.Equal(t, 2, c.Len())
}
