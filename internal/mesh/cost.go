package mesh

import (
	"fmt"
	"math"
	"strconv"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dijkstra"
)

// etxScale converts a float64 ETX weight into the fixed-point int64 weight
// lvlath's graph requires. 1e4 keeps four decimal digits of precision,
// comfortably more than any real ETX measurement needs.
const etxScale = 1e4

// CostMatrix[i][j] is the shortest-path weight from i to j, or -1 if j is
// unreachable from i. CostMatrix[i][i] is always 0.
type CostMatrix [][]float64

// HopMatrix[i][j] is the hop count of the path CostMatrix took, or -1.
type HopMatrix [][]int

func nodeVertex(id NodeID) string {
	return strconv.Itoa(int(id))
}

// toLvlathGraph builds a directed, weighted lvlath graph from the
// adjacency list so dijkstra.Dijkstra can run over it.
func toLvlathGraph(g AdjacencyGraph) (*core.Graph, error) {
	lg := core.NewGraph(core.WithDirected(true), core.WithWeighted())

	for i := range g {
		if err := lg.AddVertex(nodeVertex(NodeID(i))); err != nil {
			return nil, fmt.Errorf("mesh: add vertex %d: %w", i, err)
		}
	}
	for i, edges := range g {
		for _, e := range edges {
			weight := int64(e.ETX * etxScale)
			if weight < 0 {
				return nil, fmt.Errorf("mesh: negative weight on edge %d->%d", i, e.Peer)
			}
			if _, err := lg.AddEdge(nodeVertex(NodeID(i)), nodeVertex(e.Peer), weight); err != nil {
				return nil, fmt.Errorf("mesh: add edge %d->%d: %w", i, e.Peer, err)
			}
		}
	}
	return lg, nil
}

// BuildCostMatrix runs Dijkstra from every node and assembles the all-pairs
// CostMatrix and HopMatrix. Nodes with no outgoing edges end up as all -1
// rows (save for the diagonal, which is always 0).
func BuildCostMatrix(g AdjacencyGraph) (CostMatrix, HopMatrix, error) {
	n := g.N()
	lg, err := toLvlathGraph(g)
	if err != nil {
		return nil, nil, err
	}

	cost := make(CostMatrix, n+1)
	hop := make(HopMatrix, n+1)
	for i := 0; i <= n; i++ {
		cost[i] = make([]float64, n+1)
		hop[i] = make([]int, n+1)
		for j := 0; j <= n; j++ {
			cost[i][j] = -1
			hop[i][j] = -1
		}
		cost[i][i] = 0
		hop[i][i] = 0
	}

	for i := 1; i <= n; i++ {
		src := nodeVertex(NodeID(i))
		if !lg.HasVertex(src) {
			continue
		}

		dist, prev, err := dijkstra.Dijkstra(lg, dijkstra.Source(src), dijkstra.WithReturnPath())
		if err != nil {
			return nil, nil, fmt.Errorf("mesh: dijkstra from %d: %w", i, err)
		}

		for j := 1; j <= n; j++ {
			if i == j {
				continue
			}
			dst := nodeVertex(NodeID(j))
			d, ok := dist[dst]
			if !ok || d == math.MaxInt64 {
				continue
			}
			cost[i][j] = float64(d) / etxScale

			hops := 0
			at := dst
			for at != src {
				p, ok := prev[at]
				if !ok || p == "" {
					hops = -1
					break
				}
				at = p
				hops++
			}
			hop[i][j] = hops
		}
	}

	return cost, hop, nil
}

// pathBetween reconstructs the node-ID path from src to dst using a single
// Dijkstra run from src. Returns a nil path and cost 0 if unreachable. src == dst
// returns a one-element path with cost 0 without running Dijkstra's main
// loop, matching the original implementation's shortcut (§9 design note).
func pathBetween(g AdjacencyGraph, src, dst NodeID) ([]NodeID, float64, error) {
	if src == dst {
		return []NodeID{src}, 0, nil
	}

	lg, err := toLvlathGraph(g)
	if err != nil {
		return nil, 0, err
	}

	srcV, dstV := nodeVertex(src), nodeVertex(dst)
	if !lg.HasVertex(srcV) {
		return nil, 0, nil
	}

	dist, prev, err := dijkstra.Dijkstra(lg, dijkstra.Source(srcV), dijkstra.WithReturnPath())
	if err != nil {
		return nil, 0, fmt.Errorf("mesh: dijkstra from %d: %w", src, err)
	}

	d, ok := dist[dstV]
	if !ok || d == math.MaxInt64 {
		return nil, 0, nil
	}

	path := []string{dstV}
	at := dstV
	for at != srcV {
		p, ok := prev[at]
		if !ok || p == "" {
			return nil, 0, nil
		}
		at = p
		path = append(path, at)
	}

	ids := make([]NodeID, len(path))
	for i, v := range path {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, 0, fmt.Errorf("mesh: bad vertex id %q: %w", v, err)
		}
		ids[len(path)-1-i] = NodeID(n)
	}

	return ids, float64(d) / etxScale, nil
}
