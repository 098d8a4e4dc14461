// Package cli wires the agent's components together and runs them until
// an interrupt signal arrives, the same top-level shape as the teacher's
// internal/cli#RunRelay: load config, build the long-lived workers,
// start them, block on a cancellable context, shut down cleanly.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/meshnet-project/meshagentd/internal/config"
	"github.com/meshnet-project/meshagentd/internal/discovery"
	"github.com/meshnet-project/meshagentd/internal/inspector"
	"github.com/meshnet-project/meshagentd/internal/launcher"
	"github.com/meshnet-project/meshagentd/internal/ledger"
	"github.com/meshnet-project/meshagentd/internal/loadsample"
	"github.com/meshnet-project/meshagentd/internal/mediator"
	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/meshnet-project/meshagentd/internal/netsniff"
	"github.com/meshnet-project/meshagentd/internal/observability"
	"github.com/meshnet-project/meshagentd/internal/serviced"
	"github.com/meshnet-project/meshagentd/internal/transport"
)

// Run parses args and runs the agent until ctx (derived from OS signals)
// is cancelled. It returns only once every worker has stopped.
func Run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := observability.Setup(ctx, observability.Config{
		Service:   cfg.ServiceName,
		TraceAddr: cfg.TraceAddr,
		LogAddr:   cfg.LogAddr,
		Metrics:   cfg.MetricsEnabled,
	}); err != nil {
		return fmt.Errorf("cli: setup observability: %w", err)
	}
	defer observability.Shutdown(context.Background())

	agent, err := build(cfg)
	if err != nil {
		return err
	}
	defer agent.socket.Close()

	slog.Info("meshagentd starting", "own_id", agent.ownID, "transporter_port", cfg.TransporterPort)

	agent.run(ctx)

	slog.Info("meshagentd stopped")
	return nil
}

// builtAgent holds every long-lived worker Run starts, so Run's shutdown
// sequence and tests can reach them without threading a dozen separate
// return values around.
type builtAgent struct {
	ownID  mesh.NodeID
	router *mesh.Router

	ledger    *ledger.TrafficLedger
	sampler   loadsample.Sampler
	handler   *serviced.Handler
	transport *transport.Transporter
	inspector *inspector.Inspector
	mediator  *mediator.Mediator
	sniffer   *netsniff.Source
	socket    *discovery.UDPSocket

	debugAddr string
}

// inspectorHolder breaks the Mediator/Inspector construction cycle (each
// needs a reference to the other): the Mediator is built first holding a
// holder instead of the concrete Inspector, and the holder's target is
// filled in once the Inspector exists.
type inspectorHolder struct {
	ins *inspector.Inspector
}

func (h *inspectorHolder) Start(ctx context.Context) {
	if h.ins != nil {
		h.ins.Start(ctx)
	}
}

func (h *inspectorHolder) Cancel() {
	if h.ins != nil {
		h.ins.Cancel()
	}
}

// portsForwarder satisfies serviced.Mediator. It is the "entry point"
// wiring spec.md §4.6 describes for ServicePortsFound: the callback both
// logs through the Mediator and installs the discovered ports as the
// packet source's filter set.
type portsForwarder struct {
	mediator *mediator.Mediator
	sniffer  *netsniff.Source
}

func (p *portsForwarder) ServicePortsFound(pid int, ports []uint16) {
	p.mediator.ServicePortsFound(pid, ports)
	p.sniffer.SetPorts(ports)
}

func build(cfg *config.Config) (*builtAgent, error) {
	adjFile, err := os.Open(cfg.AdjacencyFile)
	if err != nil {
		return nil, fmt.Errorf("cli: open adjacency file: %w", err)
	}
	graph, err := mesh.LoadAdjacency(adjFile)
	adjFile.Close()
	if err != nil {
		return nil, fmt.Errorf("cli: %w", err)
	}

	ownID, err := resolveOwnID(cfg)
	if err != nil {
		return nil, err
	}

	router, err := mesh.BuildFromAdjacency(graph, ownID, cfg.UnreachableHosts)
	if err != nil {
		return nil, fmt.Errorf("cli: build router: %w", err)
	}

	ledgerStore := ledger.New()

	var sampler loadsample.Sampler
	if s, err := loadsample.NewProcSampler(cfg.SampleInterval); err != nil {
		slog.Warn("cli: load sampler unavailable, CPU/RAM gating disabled", "error", err)
	} else {
		sampler = s
	}

	svcLauncher, err := launcher.New()
	if err != nil {
		return nil, fmt.Errorf("cli: build launcher: %w", err)
	}

	socket, err := discovery.NewUDPSocket(cfg.BroadcastPort)
	if err != nil {
		return nil, fmt.Errorf("cli: %w", err)
	}

	ownAddr := mesh.AddressForID(cfg.BasePrefix, ownID)
	sniffer := netsniff.New(cfg.Interface, ownAddr)

	metrics := observability.NewRecorder(strconv.Itoa(int(ownID)))

	handler := serviced.NewHandler(serviced.HandlerConfig{
		ServiceName:     cfg.ServiceName,
		ServerIP:        ownAddr,
		FilePath:        cfg.ServiceFilePath,
		BroadcastPort:   cfg.BroadcastPort,
		TransporterPort: cfg.TransporterPort,
		BroadcastAddrs:  cfg.BroadcastAddrs,
		Launcher:        svcLauncher,
		Socket:          socket,
		Metrics:         metrics,
	})

	resolver := func(id mesh.NodeID) string { return mesh.AddressForID(cfg.BasePrefix, id) }
	transporter := transport.New(transport.Config{
		Port:            cfg.TransporterPort,
		ServiceFilePath: cfg.ServiceFilePath,
		Store:           handler,
		Resolver:        resolver,
	})

	holder := &inspectorHolder{}

	var medInspector mediator.Inspector
	if cfg.MigrationEnabled {
		medInspector = holder
	}

	med := mediator.New(mediator.Config{
		Router:           router,
		Ledger:           ledgerStore,
		ServiceHandler:   handler,
		Transporter:      transporter,
		Inspector:        medInspector,
		ServiceFilePath:  cfg.ServiceFilePath,
		RunServiceAtBoot: cfg.RunServiceAtBoot,
		Metrics:          metrics,
	})

	insp := inspector.New(inspector.Config{
		CycleInterval:      cfg.CycleInterval,
		CPUThreshold:       cfg.CPUThreshold,
		RAMThreshold:       cfg.RAMThreshold,
		MigrationThreshold: cfg.MigrationThreshold,
		ServerWhitelist:    cfg.ServerWhitelist,
		Metrics:            metrics,
	}, ledgerStore, med, sampler)
	holder.ins = insp

	handler.SetMediator(&portsForwarder{mediator: med, sniffer: sniffer})
	transporter.SetMediator(med)

	return &builtAgent{
		ownID:     ownID,
		router:    router,
		ledger:    ledgerStore,
		sampler:   sampler,
		handler:   handler,
		transport: transporter,
		inspector: insp,
		mediator:  med,
		sniffer:   sniffer,
		socket:    socket,
		debugAddr: cfg.DebugAddr,
	}, nil
}

// resolveOwnID derives the local node ID per spec.md §6's "testing mode"
// flag: normally from the wireless interface's IPv4 address, but in
// testing mode from an environment variable standing in for "a different
// shell" (no wireless interface is brought up in that mode).
func resolveOwnID(cfg *config.Config) (mesh.NodeID, error) {
	if cfg.TestingMode {
		if v := os.Getenv("MESHAGENTD_NODE_ID"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("cli: invalid MESHAGENTD_NODE_ID %q: %w", v, err)
			}
			return mesh.NodeID(n), nil
		}
	}
	if cfg.Interface == "" {
		return 0, fmt.Errorf("cli: own node ID could not be determined: set service.interface in the config file (or MESHAGENTD_NODE_ID in testing mode)")
	}
	return mesh.OwnIDFromInterface(cfg.Interface)
}

// run starts every long-lived worker and blocks until ctx is cancelled,
// then waits for each to return.
func (a *builtAgent) run(ctx context.Context) {
	var debugSrv *http.Server
	if a.debugAddr != "" {
		debugSrv = &http.Server{
			Addr: a.debugAddr,
			Handler: newDebugMux(debugDeps{
				Router: a.router,
				Status: a.handler.GetStatus,
				Config: a.handler.GetConfig,
				Ledger: a.ledger,
			}),
		}
		go func() {
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("cli: debug server error", "error", err)
			}
		}()
	}

	if a.sampler != nil {
		go a.sampler.Run(ctx)
	}

	go func() {
		if err := a.handler.Run(ctx); err != nil {
			slog.Error("cli: broadcast listener stopped", "error", err)
		}
	}()

	go func() {
		if err := a.transport.Serve(ctx); err != nil {
			slog.Error("cli: transporter accept loop stopped", "error", err)
		}
	}()

	go func() {
		if err := a.sniffer.Run(ctx, a.mediator); err != nil {
			slog.Warn("cli: packet source stopped", "error", err)
		}
	}()

	a.mediator.Run(ctx)

	if debugSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("cli: debug server shutdown error", "error", err)
		}
	}
}
