// Package inspector implements the Inspector (C3): the periodic cycle
// that turns accumulated traffic into a migrate/duplicate/no-op decision
// (spec.md §4.3).
package inspector

import (
	"context"
	"log/slog"
	"time"

	"github.com/meshnet-project/meshagentd/internal/loadsample"
	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/meshnet-project/meshagentd/internal/observability"
	"github.com/meshnet-project/meshagentd/internal/timerutil"
)

// Ledger is the subset of ledger.TrafficLedger the Inspector snapshots
// each cycle.
type Ledger interface {
	SnapshotAndReset() (mesh.TrafficSnapshot, uint64)
}

// Mediator is the narrow callback surface the Inspector drives. Per
// §4.6's callback layering, the Inspector never holds a reference to
// the Router directly: OwnID and RankCandidates reach it through the
// Mediator's thin pass-throughs, same as NoRecentConnections and
// SendService.
type Mediator interface {
	OwnID() mesh.NodeID
	RankCandidates(ledger mesh.TrafficSnapshot) []mesh.Candidate
	NoRecentConnections()
	SendService(ranked []mesh.NodeID, dup bool, reason string)
}

// Config is the Inspector's fixed, read-only tuning, matching §4.3's
// state and the CLI surface in §6.
type Config struct {
	CycleInterval      time.Duration
	CPUThreshold       float64
	RAMThreshold       float64
	MigrationThreshold float64
	ServerWhitelist    []mesh.NodeID // empty means "no filter"

	// Metrics is optional; a nil Recorder means no histogram is recorded.
	Metrics *observability.Recorder
}

// Inspector runs the migration-cycle tick on a self-correcting timer
// (internal/timerutil), owned exclusively by one goroutine at a time:
// the timer is cancelled (and any in-flight tick joined) before the
// Mediator starts a Send, and restarted on failure or after a Stop.
type Inspector struct {
	cfg    Config
	ledger Ledger
	med    Mediator
	loads  loadsample.Sampler

	timer *timerutil.Repeating
}

// New constructs an Inspector. loads may be nil in tests that never
// exercise the CPU/RAM gating path.
func New(cfg Config, ledger Ledger, med Mediator, loads loadsample.Sampler) *Inspector {
	ins := &Inspector{cfg: cfg, ledger: ledger, med: med, loads: loads}
	ins.timer = timerutil.NewRepeating(cfg.CycleInterval, ins.tick)
	return ins
}

// Start arms the cycle timer. Calling Start while already running
// restarts it (the Mediator's failure-retry path does exactly this).
func (i *Inspector) Start(ctx context.Context) {
	i.timer.Start(ctx)
}

// Cancel stops the cycle timer and blocks until any in-flight tick has
// returned, satisfying the "inspector cancellation happens-before send
// start" ordering guarantee in §5.
func (i *Inspector) Cancel() {
	i.timer.Cancel()
}

func (i *Inspector) tick(ctx context.Context) {
	if i.cfg.Metrics != nil {
		if obs := i.cfg.Metrics.CycleLatencyObs(); obs != nil {
			start := time.Now()
			defer func() { obs.Observe(time.Since(start).Seconds()) }()
		}
	}

	snapshot, total := i.ledger.SnapshotAndReset()
	if total == 0 {
		slog.Info("inspector: no recent connections this cycle")
		i.med.NoRecentConnections()
		return
	}

	ranked := i.med.RankCandidates(snapshot)
	if len(ranked) == 0 {
		slog.Info("inspector: no eligible candidates this cycle", "total_bytes", total)
		return
	}

	own := i.med.OwnID()
	if ranked[0].ID == own {
		slog.Info("inspector: local node is already the best candidate", "ranked", ranked)
		return
	}

	if i.cfg.ServerWhitelist != nil {
		ranked = filterWhitelist(ranked, i.cfg.ServerWhitelist)
		if len(ranked) == 0 {
			slog.Info("inspector: whitelist excludes every eligible candidate")
			return
		}
	}

	ownScore, ownFound := findScore(ranked, own)
	bestScore := ranked[0].Score

	if ownFound && bestScore > 0 {
		ratio := ownScore / bestScore
		if ratio < 1+i.cfg.MigrationThreshold/100 {
			slog.Info("inspector: improvement below migration threshold, staying put",
				"own_score", ownScore, "best_score", bestScore, "ratio", ratio)
			return
		}
	}

	destinations := idsOf(ranked)

	var avgCPU, avgRAM float64
	if i.loads != nil {
		avgCPU, avgRAM = i.loads.Drain()
	}

	if avgCPU > i.cfg.CPUThreshold || avgRAM > i.cfg.RAMThreshold {
		slog.Info("inspector: load above threshold, duplicating instead of migrating",
			"cpu", avgCPU, "ram", avgRAM, "destinations", destinations)
		i.med.SendService(destinations, true, "load above threshold")
		return
	}

	slog.Info("inspector: migration warranted", "destinations", destinations,
		"own_score", ownScore, "best_score", bestScore)
	i.med.SendService(destinations, false, "better candidate found")
}

func filterWhitelist(ranked []mesh.Candidate, allow []mesh.NodeID) []mesh.Candidate {
	allowed := make(map[mesh.NodeID]bool, len(allow))
	for _, id := range allow {
		allowed[id] = true
	}

	out := make([]mesh.Candidate, 0, len(ranked))
	for _, c := range ranked {
		if allowed[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func findScore(ranked []mesh.Candidate, id mesh.NodeID) (score float64, found bool) {
	for _, c := range ranked {
		if c.ID == id {
			return c.Score, true
		}
	}
	return 0, false
}

func idsOf(ranked []mesh.Candidate) []mesh.NodeID {
	ids := make([]mesh.NodeID, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}
	return ids
}
