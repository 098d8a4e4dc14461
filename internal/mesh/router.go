package mesh

import "sort"

// PeerTraffic is the accumulated in/out byte count for one peer during a
// migration cycle.
type PeerTraffic struct {
	InBytes  uint64
	OutBytes uint64
}

// TrafficSnapshot is an immutable ledger snapshot keyed by peer node ID.
type TrafficSnapshot map[NodeID]PeerTraffic

// Candidate is one ranked migration destination.
type Candidate struct {
	ID    NodeID
	Score float64
}

// Router answers routing and ranking queries against a fixed snapshot of
// the adjacency graph and its precomputed all-pairs cost matrix.
type Router struct {
	own   NodeID
	graph AdjacencyGraph
	cost  CostMatrix
	hop   HopMatrix
}

// BuildFromAdjacency prunes the unreachable hosts from graph, then runs
// Dijkstra from every remaining node to fill the cost and hop matrices.
// Nodes with no outgoing edges are left as all -1 rows.
func BuildFromAdjacency(graph AdjacencyGraph, own NodeID, unreachable []NodeID) (*Router, error) {
	pruned := graph.Prune(unreachable)

	cost, hop, err := BuildCostMatrix(pruned)
	if err != nil {
		return nil, err
	}

	return &Router{
		own:   own,
		graph: pruned,
		cost:  cost,
		hop:   hop,
	}, nil
}

// OwnID returns the local node's ID as configured at construction.
func (r *Router) OwnID() NodeID {
	return r.own
}

// Graph returns the pruned adjacency graph this router was built from.
func (r *Router) Graph() AdjacencyGraph {
	return r.graph
}

// CostMatrix returns the precomputed all-pairs shortest-path weights.
func (r *Router) CostMatrix() CostMatrix {
	return r.cost
}

// HopMatrix returns the precomputed all-pairs hop counts.
func (r *Router) HopMatrix() HopMatrix {
	return r.hop
}

// ShortestPath returns the cost and ordered node path from src to dst,
// starting with src and ending with dst. Returns (nil, nil) [nil cost
// pointer, nil path] if dst is unreachable from src. src == dst short-circuits to
// (0, []NodeID{src}) without running Dijkstra's main loop.
func (r *Router) ShortestPath(src, dst NodeID) (*float64, []NodeID) {
	path, cost, err := pathBetween(r.graph, src, dst)
	if err != nil || path == nil {
		return nil, nil
	}
	c := cost
	return &c, path
}

// SubnetGraph returns a derived graph keeping only edges whose endpoints
// share at least one partition.
func (r *Router) SubnetGraph(partitions [][]NodeID) AdjacencyGraph {
	return r.graph.SubnetGraph(partitions)
}

// RankCandidates scores every node in [1, N] against the traffic ledger:
//
//	score(c) = Σ_peer (cost[peer][c]·inBytes[peer] + cost[c][peer]·outBytes[peer])
//
// A candidate is dropped if, for any peer in the ledger, either
// cost[peer][candidate] or cost[candidate][peer] is -1 — both
// directions are checked regardless of whether that peer's in/out byte
// count is individually zero, matching the CostMatrix invariant in
// spec §3 ("if either is negative j is not a viable destination for
// client i"). The result is sorted ascending by score; ties break by
// node ID (lowest wins), which falls out of iterating candidates in
// ascending ID order under a stable sort.
func (r *Router) RankCandidates(ledger TrafficSnapshot) []Candidate {
	n := r.graph.N()
	ranked := make([]Candidate, 0, n)

	for c := 1; c <= n; c++ {
		cand := NodeID(c)
		score := 0.0
		eligible := true

		for peer, traffic := range ledger {
			costTo := r.cost[peer][cand]
			costFrom := r.cost[cand][peer]
			if costTo < 0 || costFrom < 0 {
				eligible = false
				break
			}
			score += costTo*float64(traffic.InBytes) + costFrom*float64(traffic.OutBytes)
		}

		if !eligible {
			continue
		}
		ranked = append(ranked, Candidate{ID: cand, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score < ranked[j].Score
	})

	return ranked
}
