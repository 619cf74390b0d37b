package goparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `package sample

// Greeter says hello.
type Greeter struct{}

func (g *Greeter) Greet(name string) string {
	return format(name)
}

func format(name string) string {
	return "hello " + name
}
`

func TestParseExtractsFunctionsAndCalls(t *testing.T) {
	p := New()
	result, err := p.Parse("sample.go", []byte(sample), "repo1")
	require.NoError(t, err)
	require.NotNil(t, result)

	names := map[string]bool{}
	for _, s := range result.Symbols {
		names[s.QualifiedName] = true
	}
	assert.True(t, names["Greeter"])
	assert.True(t, names["Greeter.Greet"])
	assert.True(t, names["format"])

	foundCall := false
	for _, e := range result.Edges {
		if e.To == "format" {
			foundCall = true
		}
	}
	assert.True(t, foundCall)
}

func TestExtensions(t *testing.T) {
	assert.Equal(t, []string{".go"}, New().Extensions())
}
