// Package ledger accumulates per-peer traffic byte counts during one
// migration cycle and hands an immutable snapshot to the inspector at
// each tick.
package ledger

import (
	"sync"

	"github.com/meshnet-project/meshagentd/internal/mesh"
)

// TrafficLedger accumulates per-peer in/out byte counts. The zero value is
// ready to use. Record and SnapshotAndReset are both critical sections
// guarded by a single non-reentrant mutex.
type TrafficLedger struct {
	mu    sync.Mutex
	peers map[mesh.NodeID]mesh.PeerTraffic
	total uint64
}

// New creates an empty ledger.
func New() *TrafficLedger {
	return &TrafficLedger{peers: make(map[mesh.NodeID]mesh.PeerTraffic)}
}

// Record adds one observed packet to the ledger. inbound selects whether
// bytes are counted against the peer's InBytes or OutBytes.
func (l *TrafficLedger) Record(peer mesh.NodeID, bytes uint64, inbound bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.peers == nil {
		l.peers = make(map[mesh.NodeID]mesh.PeerTraffic)
	}

	t := l.peers[peer]
	if inbound {
		t.InBytes += bytes
	} else {
		t.OutBytes += bytes
	}
	l.peers[peer] = t
	l.total += bytes
}

// SnapshotAndReset atomically returns the current ledger state and
// installs a fresh empty ledger. total == Σ(in+out) over all peers.
func (l *TrafficLedger) SnapshotAndReset() (mesh.TrafficSnapshot, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make(mesh.TrafficSnapshot, len(l.peers))
	for peer, t := range l.peers {
		snapshot[peer] = t
	}
	total := l.total

	l.peers = make(map[mesh.NodeID]mesh.PeerTraffic)
	l.total = 0

	return snapshot, total
}

// Peek returns a copy of the current ledger state without resetting it,
// for read-only observers (e.g. a debug endpoint) that must not disturb
// the next SnapshotAndReset.
func (l *TrafficLedger) Peek() (mesh.TrafficSnapshot, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make(mesh.TrafficSnapshot, len(l.peers))
	for peer, t := range l.peers {
		snapshot[peer] = t
	}
	return snapshot, l.total
}
