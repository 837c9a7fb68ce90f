package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, Chain, m)

	m, err = ParseMethod("chain")
	require.NoError(t, err)
	assert.Equal(t, Chain, m)

	m, err = ParseMethod("tree")
	require.NoError(t, err)
	assert.Equal(t, Tree, m)

	_, err = ParseMethod("bogus")
	assert.Error(t, err)
}

func TestBuildChainThreeTargets(t *testing.T) {
	edges := Build(Chain, 3)
	require.Len(t, edges, 2)
	assert.Equal(t, Edge{ParentIndex: 0, Children: []int{1}}, edges[0])
	assert.Equal(t, Edge{ParentIndex: 1, Children: []int{2}}, edges[1])
}

func TestBuildChainSingleTarget(t *testing.T) {
	assert.Empty(t, Build(Chain, 1))
}

// TestBuildTreeSevenTargets matches §8 scenario 4: edges (0→1, 0→2, 1→3,
// 1→4, 2→5, 2→6).
func TestBuildTreeSevenTargets(t *testing.T) {
	edges := Build(Tree, 7)
	require.Len(t, edges, 3)
	assert.Equal(t, Edge{ParentIndex: 0, Children: []int{1, 2}}, edges[0])
	assert.Equal(t, Edge{ParentIndex: 1, Children: []int{3, 4}}, edges[1])
	assert.Equal(t, Edge{ParentIndex: 2, Children: []int{5, 6}}, edges[2])
}

func TestBuildTreeSingleChild(t *testing.T) {
	edges := Build(Tree, 2)
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{ParentIndex: 0, Children: []int{1}}, edges[0])
}
