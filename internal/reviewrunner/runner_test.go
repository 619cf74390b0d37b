package reviewrunner

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderisk/reviewcore/internal/llm"
	"github.com/coderisk/reviewcore/internal/vcs"
)

func confidence(v float64) *float64 { return &v }

func TestFilterByPrecisionKeepsOnlyPassingComments(t *testing.T) {
	comments := []llm.Comment{
		{Body: "high", Confidence: confidence(0.9)},
		{Body: "low", Confidence: confidence(0.2)},
	}
	out := filterByPrecision(comments, 0.7)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].Body)
}

func TestFilterByPrecisionFallsBackToUnscoredWhenAllScoredFail(t *testing.T) {
	comments := []llm.Comment{
		{Body: "low", Confidence: confidence(0.1)},
		{Body: "unscored"},
	}
	out := filterByPrecision(comments, 0.7)
	require.Len(t, out, 1)
	assert.Equal(t, "unscored", out[0].Body)
}

func TestFilterByPrecisionKeepsAllWhenNoneScored(t *testing.T) {
	comments := []llm.Comment{{Body: "a"}, {Body: "b"}}
	out := filterByPrecision(comments, 0.7)
	assert.Len(t, out, 2)
}

const sampleDiff = `diff --git a/a.go b/a.go
--- a/a.go
+++ b/a.go
@@ -1,2 +1,3 @@
 package sample
-func A() {}
+func A() {
+}
`

func TestValidateAgainstDiffDropsOffDiffComments(t *testing.T) {
	diff, err := vcs.ParseUnifiedDiff(sampleDiff)
	require.NoError(t, err)

	r := &Runner{logger: logrus.New()}
	comments := []llm.Comment{
		{Path: "a.go", Line: 2, Body: "on an added line"},
		{Path: "a.go", Line: 1, Body: "on a context line"},
		{Path: "other.go", Line: 2, Body: "file not in diff"},
	}
	out := r.validateAgainstDiff(comments, diff, logrus.NewEntry(logrus.New()))
	require.Len(t, out, 1)
	assert.Equal(t, "on an added line", out[0].Body)
}

func TestRenderDiffForModelAnnotatesAddedLines(t *testing.T) {
	diff, err := vcs.ParseUnifiedDiff(sampleDiff)
	require.NoError(t, err)

	out := RenderDiffForModel(diff, 0)
	assert.Contains(t, out, "[Line 2] +func A() {")
	assert.Contains(t, out, "-func A() {}")
}

func TestRenderDiffForModelTruncatesAtBudget(t *testing.T) {
	diff, err := vcs.ParseUnifiedDiff(sampleDiff)
	require.NoError(t, err)

	out := RenderDiffForModel(diff, 10)
	assert.Contains(t, out, "truncated")
}
