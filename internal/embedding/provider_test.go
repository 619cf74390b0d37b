package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

func TestNoopAdapterReturnsFixedDimensionZeroVectors(t *testing.T) {
	a := &noopAdapter{}
	vecs, err := a.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], a.Dimension())
	assert.Equal(t, ProviderNone, a.Provider())
}

func TestNewAdapterFallsBackWithoutAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	a := NewAdapter()
	assert.Equal(t, ProviderNone, a.Provider())
}

func TestSymbolTextIncludesSignatureAndDoc(t *testing.T) {
	sym := symbolgraph.Symbol{
		QualifiedName: "Greeter.Greet",
		Signature:     "func Greet(name string) string",
		DocComment:    "Greet says hello.\n",
	}
	text := SymbolText(sym)
	assert.Contains(t, text, "Greeter.Greet")
	assert.Contains(t, text, "func Greet")
	assert.Contains(t, text, "says hello")
}
