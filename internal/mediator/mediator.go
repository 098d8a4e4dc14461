// Package mediator implements the Mediator (C6): the only component that
// holds concrete references to the rest of the agent, serializing every
// lifecycle transition (start, stop, send) through one main loop so that
// no two mutate agent state concurrently.
package mediator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meshnet-project/meshagentd/internal/discovery"
	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/meshnet-project/meshagentd/internal/observability"
	"github.com/meshnet-project/meshagentd/internal/serviced"
	"github.com/meshnet-project/meshagentd/internal/transport"
)

// pollInterval is the main loop's flag-check cadence: frequent enough to
// feel event-driven, coarse enough not to spin.
const pollInterval = 1 * time.Millisecond

// receivedStatusTimeout bounds how long ServiceReceived waits for the
// ServiceHandler to resolve Started or ErrorStarting after a handoff.
const receivedStatusTimeout = 10 * time.Second

// errLaunchTimeout is returned by ServiceReceived when the status is
// still InTransmission after receivedStatusTimeout.
var errLaunchTimeout = errors.New("mediator: service launch timed out")

// Router is the subset of mesh.Router the Mediator calls through on
// behalf of Inspector and Transporter.
type Router interface {
	OwnID() mesh.NodeID
	RankCandidates(ledger mesh.TrafficSnapshot) []mesh.Candidate
}

// Ledger is the subset of ledger.TrafficLedger the Mediator forwards
// packet observations to.
type Ledger interface {
	Record(peer mesh.NodeID, bytes uint64, inbound bool)
}

// ServiceHandler is the subset of serviced.Handler the Mediator drives.
type ServiceHandler interface {
	Start(ctx context.Context) (serviced.Status, error)
	Stop() bool
	Reset() bool
	GetStatus() serviced.Status
	Broadcast(ctx context.Context, event discovery.EventKind) error
}

// Transporter is the subset of transport.Transporter the Mediator drives
// on the send path.
type Transporter interface {
	Send(ctx context.Context, ranked []mesh.NodeID, filePath string) (ok bool, kind transport.Kind)
}

// Inspector is the subset of inspector.Inspector the Mediator starts,
// cancels, and restarts around send operations.
type Inspector interface {
	Start(ctx context.Context)
	Cancel()
}

// Config wires the Mediator's fixed dependencies.
type Config struct {
	Router           Router
	Ledger           Ledger
	ServiceHandler   ServiceHandler
	Transporter      Transporter
	Inspector        Inspector
	ServiceFilePath  string
	RunServiceAtBoot bool

	// Metrics is optional; when it is nil the Mediator skips every metric
	// call, so callers that don't care about metrics can leave this unset.
	Metrics *observability.Recorder
}

// Mediator owns the five condition flags and the main loop described in
// the component design: startService, stopService, noRecent, migrate,
// duplicate. Each is a buffered channel of capacity 1 so raising it is
// non-blocking and idempotent (a second raise while one is pending is a
// no-op, which matches "poll flags... every branch clears its flag
// before acting").
type Mediator struct {
	cfg Config

	startService chan struct{}
	stopService  chan struct{}
	noRecent     chan struct{}
	migrate      chan migrateRequest
	duplicate    chan migrateRequest
}

type migrateRequest struct {
	ranked []mesh.NodeID
	reason string
}

// New constructs a Mediator with all flags unset.
func New(cfg Config) *Mediator {
	return &Mediator{
		cfg:          cfg,
		startService: make(chan struct{}, 1),
		stopService:  make(chan struct{}, 1),
		noRecent:     make(chan struct{}, 1),
		migrate:      make(chan migrateRequest, 1),
		duplicate:    make(chan migrateRequest, 1),
	}
}

func raise[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// Run is the main loop. It polls the five flags in the fixed priority
// order from the component design, clearing and acting on at most one
// per iteration, and blocks until ctx is cancelled.
func (m *Mediator) Run(ctx context.Context) {
	if m.cfg.RunServiceAtBoot {
		raise(m.startService, struct{}{})
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case <-m.startService:
			m.doStartService(ctx)
			continue
		default:
		}

		select {
		case <-m.stopService:
			m.doStopService()
			continue
		default:
		}

		select {
		case <-m.noRecent:
			m.doNoRecent(ctx)
			continue
		default:
		}

		select {
		case req := <-m.migrate:
			m.doSend(ctx, req, true)
			continue
		default:
		}

		select {
		case req := <-m.duplicate:
			m.doSend(ctx, req, false)
			continue
		default:
		}
	}
}

func (m *Mediator) doStartService(ctx context.Context) {
	status, err := m.cfg.ServiceHandler.Start(ctx)
	if err != nil {
		slog.Error("mediator: service start failed", "error", err)
		return
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetServiceRunning(status.Kind == serviced.Started)
	}

	if m.cfg.Inspector != nil {
		m.cfg.Inspector.Start(ctx)
	}
}

func (m *Mediator) doStopService() {
	m.cfg.ServiceHandler.Stop()
	m.cfg.ServiceHandler.Reset()
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetServiceRunning(false)
	}
	if m.cfg.Inspector != nil {
		m.cfg.Inspector.Cancel()
	}
}

func (m *Mediator) doNoRecent(ctx context.Context) {
	if err := m.cfg.ServiceHandler.Broadcast(ctx, discovery.EventStarted); err != nil {
		slog.Warn("mediator: re-broadcast on noRecent failed", "error", err)
	}
}

func (m *Mediator) doSend(ctx context.Context, req migrateRequest, stopOnSuccess bool) {
	if m.cfg.Inspector != nil {
		m.cfg.Inspector.Cancel()
	}

	ok, kind := m.cfg.Transporter.Send(ctx, req.ranked, m.cfg.ServiceFilePath)
	if !ok {
		slog.Warn("mediator: send failed, restarting inspector", "kind", kind, "reason", req.reason)
		if kind == transport.KindConflict && m.cfg.Metrics != nil {
			m.cfg.Metrics.Conflict()
		}
		if m.cfg.Inspector != nil {
			m.cfg.Inspector.Start(ctx)
		}
		return
	}

	if m.cfg.Metrics != nil {
		if stopOnSuccess {
			m.cfg.Metrics.Migration()
		} else {
			m.cfg.Metrics.Duplication()
		}
	}

	if stopOnSuccess {
		m.cfg.ServiceHandler.Stop()
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.SetServiceRunning(false)
		}
		return
	}

	// duplicate: local instance keeps running, so its own inspector
	// timer resumes too.
	if m.cfg.Inspector != nil {
		m.cfg.Inspector.Start(ctx)
	}
}

// OwnID is the thin Router pass-through callback.
func (m *Mediator) OwnID() mesh.NodeID {
	return m.cfg.Router.OwnID()
}

// RankCandidates is the thin Router pass-through callback used by
// Inspector so it never holds the mediator's own state directly.
func (m *Mediator) RankCandidates(ledger mesh.TrafficSnapshot) []mesh.Candidate {
	return m.cfg.Router.RankCandidates(ledger)
}

// NewServicePacket forwards an observed packet to the TrafficLedger.
func (m *Mediator) NewServicePacket(peer mesh.NodeID, size uint64, inbound bool) {
	m.cfg.Ledger.Record(peer, size, inbound)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.LedgerBytes(size, inbound)
	}
}

// ServicePortsFound raises nothing by itself; port discovery results
// feed the packet source's filter set, which is wired directly by the
// entry point rather than routed through the Mediator (it carries no
// lifecycle decision).
func (m *Mediator) ServicePortsFound(pid int, ports []uint16) {
	slog.Info("mediator: service ports discovered", "pid", pid, "ports", ports)
}

// NoRecentConnections raises the noRecent flag from the Inspector.
func (m *Mediator) NoRecentConnections() {
	raise(m.noRecent, struct{}{})
}

// SendService raises migrate or duplicate depending on dup, carrying the
// ranked destination list the Inspector computed.
func (m *Mediator) SendService(ranked []mesh.NodeID, dup bool, reason string) {
	req := migrateRequest{ranked: ranked, reason: reason}
	if dup {
		raise(m.duplicate, req)
	} else {
		raise(m.migrate, req)
	}
}

// ServiceReceived is called by the Transporter's receive path: it raises
// startService and blocks up to receivedStatusTimeout, polling once per
// second, for the status to resolve to Started or ErrorStarting.
func (m *Mediator) ServiceReceived(ctx context.Context) (serviced.Status, error) {
	raise(m.startService, struct{}{})

	deadline := time.Now().Add(receivedStatusTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		status := m.cfg.ServiceHandler.GetStatus()
		if status.Kind == serviced.Started || status.Kind == serviced.ErrorStarting {
			return status, nil
		}

		if time.Now().After(deadline) {
			return status, errLaunchTimeout
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StopService raises the stopService flag, used by handshake-failure
// callbacks per the failure policy: no ServiceFile is trusted after a
// broken handshake.
func (m *Mediator) StopService() {
	raise(m.stopService, struct{}{})
}
