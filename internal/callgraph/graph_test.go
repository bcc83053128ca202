package callgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleEntries() map[string]Entry {
	return map[string]Entry{
		"a.go": {Definitions: []string{"Foo"}, Calls: []string{"Bar"}},
		"b.go": {Definitions: []string{"Bar"}, Calls: []string{"Baz"}},
		"c.go": {Definitions: []string{"Baz"}, Calls: nil},
	}
}

func TestBuild_DefinesMapsSymbolToDefiningFile(t *testing.T) {
	g := Build(sampleEntries())
	assert.Equal(t, []string{"a.go"}, g.DefinersOf("Foo"))
	assert.Equal(t, []string{"b.go"}, g.DefinersOf("Bar"))
}

func TestBuild_CalledByMapsSymbolToCallingFile(t *testing.T) {
	g := Build(sampleEntries())
	assert.Equal(t, []string{"a.go"}, g.CallersOf("Bar"))
	assert.Equal(t, []string{"b.go"}, g.CallersOf("Baz"))
}

func TestRelatedFiles_OneHop_ReturnsDirectNeighbor(t *testing.T) {
	g := Build(sampleEntries())
	related := g.RelatedFiles("a.go", 1)
	assert.Equal(t, []string{"b.go"}, related)
}

func TestRelatedFiles_TwoHops_ReachesTransitiveNeighbor(t *testing.T) {
	g := Build(sampleEntries())
	related := g.RelatedFiles("a.go", 2)
	assert.ElementsMatch(t, []string{"b.go", "c.go"}, related)
}

func TestRelatedFiles_ZeroHops_ReturnsEmpty(t *testing.T) {
	g := Build(sampleEntries())
	assert.Empty(t, g.RelatedFiles("a.go", 0))
}

func TestRelatedFilesForSymbols_UnionsAcrossSymbols(t *testing.T) {
	g := Build(sampleEntries())
	related := g.RelatedFilesForSymbols([]string{"Foo", "Baz"}, 1)
	assert.True(t, related["a.go"])
	assert.True(t, related["b.go"]) // calls Baz
}
