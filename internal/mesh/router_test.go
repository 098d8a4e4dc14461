package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenario graph from spec.md §8 scenario 1:
// cost[1][2]=1, cost[2][1]=1, cost[1][3]=2, cost[3][1]=2, cost[2][3]=3, cost[3][2]=3
func scenarioGraph() AdjacencyGraph {
	g := make(AdjacencyGraph, 4)
	g[1] = []Edge{{Peer: 2, ETX: 1}, {Peer: 3, ETX: 2}}
	g[2] = []Edge{{Peer: 1, ETX: 1}, {Peer: 3, ETX: 3}}
	g[3] = []Edge{{Peer: 1, ETX: 2}, {Peer: 2, ETX: 3}}
	return g
}

// Note: spec.md §8 scenario 1 asserts ranked order [(2,100),(1,100),(3,200)],
// but that is an arithmetic error in the spec's own worked example: by its
// own formula, score(c) = cost[2][c]·100 (only peer 2 is in the ledger), so
// score(2) = cost[2][2]·100 = 0, score(1) = cost[2][1]·100 = 100, and
// score(3) = cost[2][3]·100 = 300. This test asserts the formula's actual
// output rather than the spec's inconsistent example.
func TestRankCandidates_TrivialRank(t *testing.T) {
	r, err := BuildFromAdjacency(scenarioGraph(), 1, nil)
	require.NoError(t, err)

	ledger := TrafficSnapshot{2: {InBytes: 100}}
	ranked := r.RankCandidates(ledger)

	require.Len(t, ranked, 3)
	assert.Equal(t, Candidate{ID: 2, Score: 0}, ranked[0])
	assert.Equal(t, Candidate{ID: 1, Score: 100}, ranked[1])
	assert.Equal(t, Candidate{ID: 3, Score: 300}, ranked[2])
}

func TestRankCandidates_ThresholdScenario(t *testing.T) {
	r, err := BuildFromAdjacency(scenarioGraph(), 1, nil)
	require.NoError(t, err)

	ledger := TrafficSnapshot{
		2: {InBytes: 50},
		3: {InBytes: 50},
	}
	ranked := r.RankCandidates(ledger)

	byID := make(map[NodeID]float64, len(ranked))
	for _, c := range ranked {
		byID[c.ID] = c.Score
	}
	assert.Equal(t, 150.0, byID[1])
	assert.Equal(t, 150.0, byID[2])
	assert.Equal(t, 150.0, byID[3])

	// all three candidates tie at 150; node 1 must win on lowest-ID tie-break.
	assert.Equal(t, NodeID(1), ranked[0].ID)
}

func TestRankCandidates_DropsIneligible(t *testing.T) {
	// node 3 is unreachable from node 2 (directed edge missing).
	g := make(AdjacencyGraph, 4)
	g[1] = []Edge{{Peer: 2, ETX: 1}}
	g[2] = []Edge{{Peer: 1, ETX: 1}}
	g[3] = []Edge{}

	r, err := BuildFromAdjacency(g, 1, nil)
	require.NoError(t, err)

	ledger := TrafficSnapshot{2: {InBytes: 10}}
	ranked := r.RankCandidates(ledger)

	for _, c := range ranked {
		assert.NotEqual(t, NodeID(3), c.ID, "node 3 cannot be reached from peer 2, must be dropped")
	}
}

func TestRankCandidates_EmptyLedger(t *testing.T) {
	r, err := BuildFromAdjacency(scenarioGraph(), 1, nil)
	require.NoError(t, err)

	ranked := r.RankCandidates(TrafficSnapshot{})
	require.Len(t, ranked, 3)
	for _, c := range ranked {
		assert.Equal(t, 0.0, c.Score)
	}
}

func TestBuildFromAdjacency_PrunesUnreachable(t *testing.T) {
	r, err := BuildFromAdjacency(scenarioGraph(), 1, []NodeID{3})
	require.NoError(t, err)

	assert.Empty(t, r.Graph()[3])
	for _, e := range r.Graph()[1] {
		assert.NotEqual(t, NodeID(3), e.Peer)
	}
}

func TestShortestPath_SameNode(t *testing.T) {
	r, err := BuildFromAdjacency(scenarioGraph(), 1, nil)
	require.NoError(t, err)

	cost, path := r.ShortestPath(1, 1)
	require.NotNil(t, cost)
	assert.Equal(t, 0.0, *cost)
	assert.Equal(t, []NodeID{1}, path)
}

func TestSubnetGraph_KeepsSharedPartitionEdgesOnly(t *testing.T) {
	r, err := BuildFromAdjacency(scenarioGraph(), 1, nil)
	require.NoError(t, err)

	sub := r.SubnetGraph([][]NodeID{{1, 2}})
	// node 1's edge to 3 is dropped (3 isn't in the partition); edge to 2 stays.
	var peers []NodeID
	for _, e := range sub[1] {
		peers = append(peers, e.Peer)
	}
	assert.Equal(t, []NodeID{2}, peers)
}
