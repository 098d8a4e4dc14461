package mesh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAdjacency_Basic(t *testing.T) {
	const doc = `[
		[],
		[{"node":2,"interface":0,"etx":1.0}],
		[{"node":1,"interface":0,"etx":1.0}]
	]`

	g, err := LoadAdjacency(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, g, 3)
	require.Len(t, g[1], 1)
	assert.Equal(t, NodeID(2), g[1][0].Peer)
	assert.Equal(t, 2, g.N())
}

func TestLoadAdjacency_CollapsesDuplicateEdgesToMinimum(t *testing.T) {
	const doc = `[
		[],
		[{"node":2,"interface":0,"etx":5.0},{"node":2,"interface":1,"etx":2.0}],
		[]
	]`

	g, err := LoadAdjacency(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, g[1], 1)
	assert.Equal(t, 2.0, g[1][0].ETX)
}

func TestLoadAdjacency_RejectsSelfLoop(t *testing.T) {
	const doc = `[[],[{"node":1,"interface":0,"etx":1.0}]]`
	_, err := LoadAdjacency(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestLoadAdjacency_RejectsOutOfRange(t *testing.T) {
	const doc = `[[],[{"node":9,"interface":0,"etx":1.0}]]`
	_, err := LoadAdjacency(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestLoadAdjacency_RejectsNegativeWeight(t *testing.T) {
	const doc = `[[],[],[{"node":1,"interface":0,"etx":-1.0}]]`
	_, err := LoadAdjacency(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestAdjacencyGraph_Prune(t *testing.T) {
	g := make(AdjacencyGraph, 4)
	g[1] = []Edge{{Peer: 2, ETX: 1}, {Peer: 3, ETX: 1}}
	g[2] = []Edge{{Peer: 1, ETX: 1}}
	g[3] = []Edge{{Peer: 1, ETX: 1}}

	pruned := g.Prune([]NodeID{3})

	assert.Nil(t, pruned[3])
	require.Len(t, pruned[1], 1)
	assert.Equal(t, NodeID(2), pruned[1][0].Peer)
}
