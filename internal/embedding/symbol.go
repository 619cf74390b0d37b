package embedding

import (
	"strings"

	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

// SymbolText builds the string embedded for a symbol: its qualified name,
// then its signature and doc comment on separate lines when they are set.
func SymbolText(s symbolgraph.Symbol) string {
	var b strings.Builder
	b.WriteString(s.QualifiedName)
	if s.Signature != "" {
		b.WriteString("\n")
		b.WriteString(s.Signature)
	}
	if s.DocComment != "" {
		b.WriteString("\n")
		b.WriteString(s.DocComment)
	}
	return b.String()
}
