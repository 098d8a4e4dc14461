package ledger

import (
	"sync"
	"testing"

	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrafficLedger_RecordAccumulates(t *testing.T) {
	l := New()
	l.Record(2, 100, true)
	l.Record(2, 50, true)
	l.Record(2, 25, false)

	snap, total := l.SnapshotAndReset()
	require.Contains(t, snap, mesh.NodeID(2))
	assert.Equal(t, uint64(150), snap[2].InBytes)
	assert.Equal(t, uint64(25), snap[2].OutBytes)
	assert.Equal(t, uint64(175), total)
}

func TestTrafficLedger_TotalMatchesSumOfPeers(t *testing.T) {
	l := New()
	l.Record(2, 10, true)
	l.Record(3, 20, false)
	l.Record(3, 5, true)

	snap, total := l.SnapshotAndReset()

	var sum uint64
	for _, p := range snap {
		sum += p.InBytes + p.OutBytes
	}
	assert.Equal(t, sum, total)
}

func TestTrafficLedger_SnapshotAndReset_ClearsState(t *testing.T) {
	l := New()
	l.Record(2, 10, true)
	l.SnapshotAndReset()

	snap, total := l.SnapshotAndReset()
	assert.Empty(t, snap)
	assert.Equal(t, uint64(0), total)
}

func TestTrafficLedger_ZeroValueIsUsable(t *testing.T) {
	var l TrafficLedger
	l.Record(1, 5, true)
	snap, total := l.SnapshotAndReset()
	assert.Equal(t, uint64(5), total)
	assert.Equal(t, uint64(5), snap[1].InBytes)
}

func TestTrafficLedger_PeekDoesNotReset(t *testing.T) {
	l := New()
	l.Record(2, 10, true)

	snap, total := l.Peek()
	assert.Equal(t, uint64(10), total)
	assert.Equal(t, uint64(10), snap[2].InBytes)

	snap2, total2 := l.SnapshotAndReset()
	assert.Equal(t, uint64(10), total2)
	assert.Equal(t, uint64(10), snap2[2].InBytes)
}

func TestTrafficLedger_ConcurrentRecord(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(1, 1, true)
		}()
	}
	wg.Wait()

	_, total := l.SnapshotAndReset()
	assert.Equal(t, uint64(100), total)
}
