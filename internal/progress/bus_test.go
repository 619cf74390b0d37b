package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishAndGetIsLastValueOnly(t *testing.T) {
	b := New()

	_, ok := b.Get("repo1", "main")
	assert.False(t, ok)

	b.Publish(IndexProgress{RepoID: "repo1", Branch: "main", Phase: PhaseWalking, FilesTotal: 10})
	p, ok := b.Get("repo1", "main")
	assert.True(t, ok)
	assert.Equal(t, PhaseWalking, p.Phase)

	b.Publish(IndexProgress{RepoID: "repo1", Branch: "main", Phase: PhaseDone, FilesTotal: 10, FilesDone: 10})
	p, ok = b.Get("repo1", "main")
	assert.True(t, ok)
	assert.Equal(t, PhaseDone, p.Phase)
	assert.Equal(t, 10, p.FilesDone)
}

func TestBranchesAreIsolated(t *testing.T) {
	b := New()
	b.Publish(IndexProgress{RepoID: "repo1", Branch: "main", Phase: PhaseWalking})
	b.Publish(IndexProgress{RepoID: "repo1", Branch: "feature-x", Phase: PhaseDone})

	main, _ := b.Get("repo1", "main")
	feature, _ := b.Get("repo1", "feature-x")
	assert.Equal(t, PhaseWalking, main.Phase)
	assert.Equal(t, PhaseDone, feature.Phase)
}
