package mesh

import "testing"

func threeNodeGraph() AdjacencyGraph {
	g := make(AdjacencyGraph, 4) // N=3, row 0 unused
	g[1] = []Edge{{Peer: 2, ETX: 1}, {Peer: 3, ETX: 2}}
	g[2] = []Edge{{Peer: 1, ETX: 1}, {Peer: 3, ETX: 3}}
	g[3] = []Edge{{Peer: 1, ETX: 2}, {Peer: 2, ETX: 3}}
	return g
}

func TestBuildCostMatrix_Direct(t *testing.T) {
	cost, _, err := BuildCostMatrix(threeNodeGraph())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cost[1][2] != 1 {
		t.Errorf("cost[1][2] = %v, want 1", cost[1][2])
	}
	if cost[1][3] != 2 {
		t.Errorf("cost[1][3] = %v, want 2", cost[1][3])
	}
	if cost[2][3] != 3 {
		t.Errorf("cost[2][3] = %v, want 3", cost[2][3])
	}
}

func TestBuildCostMatrix_Diagonal(t *testing.T) {
	cost, hop, err := BuildCostMatrix(threeNodeGraph())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if cost[i][i] != 0 {
			t.Errorf("cost[%d][%d] = %v, want 0", i, i, cost[i][i])
		}
		if hop[i][i] != 0 {
			t.Errorf("hop[%d][%d] = %v, want 0", i, i, hop[i][i])
		}
	}
}

func TestBuildCostMatrix_Unreachable(t *testing.T) {
	g := make(AdjacencyGraph, 3) // N=2
	g[1] = []Edge{}
	g[2] = []Edge{}

	cost, _, err := BuildCostMatrix(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cost[1][2] != -1 {
		t.Errorf("cost[1][2] = %v, want -1 (unreachable)", cost[1][2])
	}
}

func TestPathBetween_SameNode(t *testing.T) {
	g := threeNodeGraph()
	path, cost, err := pathBetween(g, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cost != 0 {
		t.Errorf("cost = %v, want 0", cost)
	}
	if len(path) != 1 || path[0] != 1 {
		t.Errorf("path = %v, want [1]", path)
	}
}

func TestPathBetween_MultiHop(t *testing.T) {
	g := make(AdjacencyGraph, 4)
	g[1] = []Edge{{Peer: 2, ETX: 10}, {Peer: 3, ETX: 3}}
	g[2] = []Edge{}
	g[3] = []Edge{{Peer: 2, ETX: 2}}

	path, cost, err := pathBetween(g, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cost != 5 {
		t.Errorf("cost = %v, want 5 (via node 3)", cost)
	}
	want := []NodeID{1, 3, 2}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("path[%d] = %v, want %v", i, path[i], want[i])
		}
	}
}

func TestPathBetween_Unreachable(t *testing.T) {
	g := make(AdjacencyGraph, 3)
	g[1] = []Edge{}
	g[2] = []Edge{}

	path, _, err := pathBetween(g, 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != nil {
		t.Errorf("path = %v, want nil", path)
	}
}
