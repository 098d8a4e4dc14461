package serviced

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/meshnet-project/meshagentd/internal/discovery"
	"github.com/meshnet-project/meshagentd/internal/observability"
)

// ErrIllegalTransition is returned by SetStatus when the requested move
// isn't one of the six edges in the ServiceStatus transition graph.
var ErrIllegalTransition = errors.New("serviced: illegal status transition")

// portDiscoveryInterval is how often Start's background timer polls the
// launcher for the child's listening ports. Variable so tests can shrink
// it rather than waiting on the real 5s cadence.
var portDiscoveryInterval = 5 * time.Second

// Mediator is the narrow callback surface ServiceHandler needs. The
// concrete mediator.Mediator satisfies this interface structurally; this
// package never imports the mediator package.
type Mediator interface {
	ServicePortsFound(pid int, ports []uint16)
}

// HandlerConfig describes the fixed, read-only wiring a Handler needs.
type HandlerConfig struct {
	ServiceName     string
	ServerIP        string
	FilePath        string
	BroadcastPort   uint16
	TransporterPort uint16
	BroadcastAddrs  []string
	Launcher        Launcher
	Socket          discovery.Socket

	// Metrics is optional; a nil Recorder means no generation gauge is set.
	Metrics *observability.Recorder
}

// Handler is the ServiceHandler (C4): it owns ServiceStatus and
// ServiceConfig, launches and stops the child process, and answers
// who_is queries on the broadcast socket. All state is guarded by a
// single reentrant-by-convention mutex (methods never call each other
// while holding it).
type Handler struct {
	cfg      HandlerConfig
	mediator Mediator

	mu     sync.Mutex
	status Status
	config Config
	pid    int

	portDiscoveryCancel context.CancelFunc
}

// NewHandler constructs a Handler in the NotStarted state.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// SetMediator wires the mediator callback after construction, breaking
// the cyclic self-reference the source used between mediator and child.
func (h *Handler) SetMediator(m Mediator) {
	h.mediator = m
}

// reservedPorts returns the broadcast and transporter ports, which are
// always excluded from a discovered service config.
func (h *Handler) reservedPorts() map[uint16]struct{} {
	return map[uint16]struct{}{
		h.cfg.BroadcastPort:   {},
		h.cfg.TransporterPort: {},
	}
}

// Start launches the child via the configured Launcher. On success it
// transitions to Started, records the child's PID, arms the open-port
// discovery timer, and broadcasts {"event":"started"}.
func (h *Handler) Start(ctx context.Context) (Status, error) {
	pid, err := h.cfg.Launcher.Launch(ctx, h.cfg.FilePath)
	if err != nil {
		if serr := h.SetStatus(Status{Kind: ErrorStarting, Reason: err.Error()}); serr != nil {
			slog.Warn("serviced: could not record launch failure", "error", serr)
		}
		return h.GetStatus(), fmt.Errorf("serviced: launch: %w", err)
	}

	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()

	if err := h.SetStatus(Status{Kind: Started}); err != nil {
		return h.GetStatus(), fmt.Errorf("serviced: %w", err)
	}

	h.armPortDiscovery(ctx, pid)

	if err := h.Broadcast(ctx, discovery.EventStarted); err != nil {
		slog.Warn("serviced: broadcast started failed", "error", err)
	}

	return h.GetStatus(), nil
}

// armPortDiscovery starts the timer described in §4.4: poll the
// launcher every 5s for pid's listening ports, excluding the reserved
// ones, and report the first nonempty find to the mediator. The timer
// auto-stops on first find or when cancelled.
func (h *Handler) armPortDiscovery(ctx context.Context, pid int) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.portDiscoveryCancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(portDiscoveryInterval)
		defer ticker.Stop()

		reserved := h.reservedPorts()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ports, err := h.cfg.Launcher.ListeningPorts(pid)
				if err != nil {
					slog.Warn("serviced: port discovery poll failed", "pid", pid, "error", err)
					continue
				}

				filtered := filterReserved(ports, reserved)
				if len(filtered) == 0 {
					continue
				}

				h.SetConfig(h.GetConfig().ServiceID, filtered)
				if h.mediator != nil {
					h.mediator.ServicePortsFound(pid, filtered)
				}
				return
			}
		}
	}()
}

func filterReserved(ports []uint16, reserved map[uint16]struct{}) []uint16 {
	out := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if _, skip := reserved[p]; skip {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Stop sends an interrupt to the child, clears status to NotStarted, and
// broadcasts {"event":"stopped"}. Returns false if no child was running.
func (h *Handler) Stop() bool {
	h.mu.Lock()
	pid := h.pid
	wasRunning := h.status.Kind == Started
	if h.portDiscoveryCancel != nil {
		h.portDiscoveryCancel()
		h.portDiscoveryCancel = nil
	}
	h.status = Status{Kind: NotStarted}
	h.mu.Unlock()

	if !wasRunning {
		return false
	}

	if err := h.cfg.Launcher.Stop(pid); err != nil {
		slog.Warn("serviced: stop child failed", "pid", pid, "error", err)
	}

	if err := h.Broadcast(context.Background(), discovery.EventStopped); err != nil {
		slog.Warn("serviced: broadcast stopped failed", "error", err)
	}

	return true
}

// Reset removes the on-disk service file, cancels any in-flight port
// discovery, and sets status to NotStarted. Idempotent: calling it twice
// leaves the agent in the same observable state.
func (h *Handler) Reset() bool {
	h.mu.Lock()
	if h.portDiscoveryCancel != nil {
		h.portDiscoveryCancel()
		h.portDiscoveryCancel = nil
	}
	h.status = Status{Kind: NotStarted}
	h.config = Config{}
	filePath := h.cfg.FilePath
	h.mu.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		slog.Warn("serviced: remove service file failed", "path", filePath, "error", err)
		return false
	}
	return true
}

// GetStatus returns the current ServiceStatus.
func (h *Handler) GetStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// SetStatus installs a new status if the transition is legal.
func (h *Handler) SetStatus(s Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !legalTransition(h.status.Kind, s.Kind) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, h.status.Kind, s.Kind)
	}
	h.status = s
	return nil
}

// GetConfig returns the current ServiceConfig.
func (h *Handler) GetConfig() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config
}

// SetConfig installs a new ServiceConfig, filtering the broadcast and
// transporter ports out of ports regardless of the caller.
func (h *Handler) SetConfig(serviceID uint64, ports []uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = Config{ServiceID: serviceID, Ports: filterReserved(ports, h.reservedPorts())}
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.SetServiceGeneration(serviceID)
	}
}

// Broadcast sends a UDP datagram to every configured broadcast address,
// carrying the current service name, IP and service ID.
func (h *Handler) Broadcast(ctx context.Context, event discovery.EventKind) error {
	msg := discovery.Message{
		ServiceName: h.cfg.ServiceName,
		Event:       event,
		ServerIP:    h.cfg.ServerIP,
		ServiceID:   h.GetConfig().ServiceID,
	}
	return h.cfg.Socket.Broadcast(ctx, h.cfg.BroadcastAddrs, h.cfg.BroadcastPort, msg)
}

// Run is the always-on broadcast listener: it answers who_is with
// who_is_answer carrying the local address and service ID, but only
// while status is Started. It blocks until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) error {
	received, err := h.cfg.Socket.Listen(ctx, h.cfg.BroadcastPort)
	if err != nil {
		return fmt.Errorf("serviced: listen on broadcast port: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-received:
			if !ok {
				return nil
			}
			if r.Message.Event != discovery.EventWhoIs {
				continue
			}
			if h.GetStatus().Kind != Started {
				continue
			}

			answer := discovery.Message{
				ServiceName: h.cfg.ServiceName,
				Event:       discovery.EventWhoIsAnswer,
				ServerIP:    h.cfg.ServerIP,
				ServiceID:   h.GetConfig().ServiceID,
			}
			if err := h.cfg.Socket.Reply(ctx, r.From, answer); err != nil {
				slog.Warn("serviced: reply to who_is failed", "from", r.From, "error", err)
			}
		}
	}
}
