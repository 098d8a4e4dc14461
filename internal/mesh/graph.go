// Package mesh computes and ranks candidate hosts over the mesh's static
// adjacency graph. It precomputes an all-pairs shortest-path cost matrix
// once at startup using github.com/katalvlaran/lvlath/dijkstra and answers
// routing and ranking queries against that fixed snapshot.
package mesh

import (
	"encoding/json"
	"fmt"
	"io"
)

// NodeID is a mesh node identifier in [1, N]. Node 0 is unused (sentinel).
type NodeID uint16

// Edge is a single outgoing hop from one node to a neighbor.
type Edge struct {
	Peer      NodeID  `json:"node"`
	Interface int     `json:"interface"`
	ETX       float64 `json:"etx"`
}

// AdjacencyGraph is indexed by node ID; entry 0 is unused.
type AdjacencyGraph [][]Edge

// rawEdge mirrors the on-disk adjacency file element.
type rawEdge struct {
	Node      int     `json:"node"`
	Interface int     `json:"interface"`
	ETX       float64 `json:"etx"`
}

// LoadAdjacency parses the JSON adjacency file format from §6: an array of
// length N+1, element 0 unused, element i listing i's outgoing edges.
// Duplicated edges per interface are collapsed to the minimum-weight edge
// per destination. Malformed input (out-of-range node reference, negative
// weight, a self-loop) is a GraphLoad error and fatal at boot.
func LoadAdjacency(r io.Reader) (AdjacencyGraph, error) {
	var raw [][]rawEdge
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("mesh: decode adjacency file: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("mesh: adjacency file is empty")
	}

	n := len(raw) - 1
	g := make(AdjacencyGraph, len(raw))

	for i, edges := range raw {
		best := make(map[NodeID]Edge)
		order := make([]NodeID, 0, len(edges))

		for _, e := range edges {
			if e.Node < 0 || e.Node > n {
				return nil, fmt.Errorf("mesh: node %d references out-of-range neighbor %d", i, e.Node)
			}
			if e.Node == i {
				return nil, fmt.Errorf("mesh: node %d has a self-loop", i)
			}
			if e.ETX < 0 {
				return nil, fmt.Errorf("mesh: node %d has a negative-weight edge to %d", i, e.Node)
			}

			peer := NodeID(e.Node)
			cur, ok := best[peer]
			if !ok {
				order = append(order, peer)
			}
			if !ok || e.ETX < cur.ETX {
				best[peer] = Edge{Peer: peer, Interface: e.Interface, ETX: e.ETX}
			}
		}

		row := make([]Edge, 0, len(order))
		for _, peer := range order {
			row = append(row, best[peer])
		}
		g[i] = row
	}

	return g, nil
}

// Prune removes the rows and neighbor references for every node listed in
// unreachable. It is applied once at load time, before Dijkstra runs.
func (g AdjacencyGraph) Prune(unreachable []NodeID) AdjacencyGraph {
	drop := make(map[NodeID]bool, len(unreachable))
	for _, id := range unreachable {
		drop[id] = true
	}

	out := make(AdjacencyGraph, len(g))
	for i, edges := range g {
		if drop[NodeID(i)] {
			out[i] = nil
			continue
		}
		filtered := make([]Edge, 0, len(edges))
		for _, e := range edges {
			if !drop[e.Peer] {
				filtered = append(filtered, e)
			}
		}
		out[i] = filtered
	}
	return out
}

// N returns the highest valid node ID (the graph has N+1 rows, 0 unused).
func (g AdjacencyGraph) N() int {
	return len(g) - 1
}

// SubnetGraph returns a derived graph keeping only edges whose endpoints
// share at least one partition. Used to isolate virtual subnets for
// testing or analysis without touching the live graph.
func (g AdjacencyGraph) SubnetGraph(partitions [][]NodeID) AdjacencyGraph {
	membership := make(map[NodeID]map[int]bool)
	for pi, part := range partitions {
		for _, id := range part {
			if membership[id] == nil {
				membership[id] = make(map[int]bool)
			}
			membership[id][pi] = true
		}
	}

	shared := func(a, b NodeID) bool {
		for pi := range membership[a] {
			if membership[b][pi] {
				return true
			}
		}
		return false
	}

	out := make(AdjacencyGraph, len(g))
	for i, edges := range g {
		filtered := make([]Edge, 0, len(edges))
		for _, e := range edges {
			if shared(NodeID(i), e.Peer) {
				filtered = append(filtered, e)
			}
		}
		out[i] = filtered
	}
	return out
}
