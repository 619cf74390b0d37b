package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDiff = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -10,3 +10,4 @@ func main() {
 	a := 1
-	b := 2
+	b := 3
+	c := 4
 	fmt.Println(a)
`

func TestParseUnifiedDiffExtractsFilesAndHunks(t *testing.T) {
	diff, err := ParseUnifiedDiff(sampleDiff)
	require.NoError(t, err)
	require.Len(t, diff.Files, 1)

	f := diff.Files[0]
	assert.Equal(t, "main.go", f.Path)
	require.Len(t, f.Hunks, 1)
	assert.Equal(t, 10, f.Hunks[0].NewStart)
	assert.Equal(t, 4, f.Hunks[0].NewLines)
}

func TestChangedLinesTracksOnlyAdditions(t *testing.T) {
	diff, err := ParseUnifiedDiff(sampleDiff)
	require.NoError(t, err)

	changed := diff.Files[0].ChangedLines()
	assert.True(t, changed[11])
	assert.True(t, changed[12])
	assert.False(t, changed[10])
}

func TestParseUnifiedDiffRejectsHunkBeforeFileHeader(t *testing.T) {
	_, err := ParseUnifiedDiff("@@ -1,1 +1,1 @@\n-a\n+b\n")
	assert.Error(t, err)
}
