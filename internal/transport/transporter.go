package transport

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/meshnet-project/meshagentd/internal/serviced"
)

// Mediator is the narrow callback surface Transporter needs on the
// receive side. The concrete mediator.Mediator satisfies this
// structurally; this package never imports the mediator package.
type Mediator interface {
	// ServiceReceived raises startService and blocks (up to its own
	// internal 10s budget) until the ServiceHandler's status resolves
	// to Started or ErrorStarting.
	ServiceReceived(ctx context.Context) (serviced.Status, error)
}

// ServiceStore is the subset of serviced.Handler's API the Transporter
// reads and writes directly, mirroring the receive-side protocol's
// "set config" and send-side's "ServiceHandler.GetConfig()" steps.
type ServiceStore interface {
	GetStatus() serviced.Status
	SetStatus(serviced.Status) error
	GetConfig() serviced.Config
	SetConfig(serviceID uint64, ports []uint16)
	Reset() bool
}

// AddressResolver maps a mesh node ID to a dialable host string.
type AddressResolver func(id mesh.NodeID) string

// Config wires a Transporter's fixed dependencies.
type Config struct {
	Port            uint16
	ServiceFilePath string
	Store           ServiceStore
	Resolver        AddressResolver
	DialRetries     int           // default 10
	DialBackoff     time.Duration // base backoff, default 100ms
	DialBackoffCap  time.Duration // default 2s
}

// Transporter is the C5 component: one TCP accept loop on Port, and a
// Send operation guarded by a non-reentrant, non-blocking send lock.
// Only one concurrent send and one concurrent receive are allowed.
type Transporter struct {
	cfg      Config
	mediator Mediator

	sendMu sync.Mutex
	recvMu sync.Mutex
}

func New(cfg Config) *Transporter {
	if cfg.DialRetries == 0 {
		cfg.DialRetries = 10
	}
	if cfg.DialBackoff == 0 {
		cfg.DialBackoff = 100 * time.Millisecond
	}
	if cfg.DialBackoffCap == 0 {
		cfg.DialBackoffCap = 2 * time.Second
	}
	return &Transporter{cfg: cfg}
}

func (t *Transporter) SetMediator(m Mediator) {
	t.mediator = m
}

// Serve runs the accept loop until ctx is cancelled. Each accepted
// connection is handled by its own goroutine; at most one may be mid
// handoff at a time (the rest are told CONFLICT immediately).
func (t *Transporter) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", t.cfg.Port))
	if err != nil {
		return fmt.Errorf("transport: listen on %d: %w", t.cfg.Port, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("transport: accept: %w", err)
			}
		}
		go t.handleConn(ctx, conn)
	}
}

func (t *Transporter) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	id := uuid.New()
	log := slog.With("conn", id, "remote", conn.RemoteAddr())

	if !t.recvMu.TryLock() {
		t.reply(log, conn, TokenConflict)
		return
	}
	defer t.recvMu.Unlock()

	if t.cfg.Store.GetStatus().Kind != serviced.NotStarted {
		t.reply(log, conn, TokenConflict)
		return
	}

	if err := t.cfg.Store.SetStatus(serviced.Status{Kind: serviced.InTransmission}); err != nil {
		log.Warn("transport: rejecting receive, illegal status transition", "error", err)
		t.reply(log, conn, TokenConflict)
		return
	}

	t.reply(log, conn, TokenAccepted)

	r := bufio.NewReader(conn)
	deadline := time.Now().Add(frameTimeout)
	payload, err := readPayload(r, conn, deadline)
	if err != nil || len(payload.Service) == 0 {
		log.Warn("transport: malformed handoff payload", "error", err)
		t.reply(log, conn, TokenTransportError)
		t.cfg.Store.Reset()
		return
	}

	if err := os.WriteFile(t.cfg.ServiceFilePath, payload.Service, 0o755); err != nil {
		log.Error("transport: persist service file failed", "error", err)
		t.reply(log, conn, TokenInternalServerError)
		t.cfg.Store.Reset()
		return
	}
	t.cfg.Store.SetConfig(payload.Counter, payload.Ports)

	status, err := t.mediator.ServiceReceived(ctx)
	if err != nil || status.Kind != serviced.Started {
		log.Warn("transport: service did not reach Started", "status", status.Kind, "error", err)
		t.reply(log, conn, TokenInternalServerError)
		t.cfg.Store.Reset()
		return
	}

	t.reply(log, conn, TokenOkay)
}

func (t *Transporter) reply(log *slog.Logger, conn net.Conn, tok Token) {
	if err := writeToken(conn, time.Now().Add(frameTimeout), tok); err != nil {
		log.Warn("transport: write reply token failed", "token", tok, "error", err)
	}
}

// Send attempts the handoff in ranked order. It returns (true, KindNone)
// on success, or (false, kind) describing why every candidate was
// exhausted (or why Send itself could not run).
func (t *Transporter) Send(ctx context.Context, ranked []mesh.NodeID, filePath string) (bool, Kind) {
	if !t.sendMu.TryLock() {
		return false, KindLocked
	}
	defer t.sendMu.Unlock()

	for _, dst := range ranked {
		ok, kind, stop := t.sendTo(ctx, dst, filePath)
		if ok {
			return true, KindNone
		}
		if stop {
			return false, kind
		}
	}

	return false, KindNotFound
}

// sendTo attempts the handoff with one candidate. stop reports whether
// Send should abandon the whole ranked list (a CONFLICT means another
// sender has already won).
func (t *Transporter) sendTo(ctx context.Context, dst mesh.NodeID, filePath string) (ok bool, kind Kind, stop bool) {
	addr := fmt.Sprintf("%s:%d", t.cfg.Resolver(dst), t.cfg.Port)

	conn, err := t.dialWithRetry(ctx, addr)
	if err != nil {
		slog.Warn("transport: candidate unreachable", "dst", dst, "addr", addr, "error", err)
		return false, KindTimeout, false
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	deadline := time.Now().Add(frameTimeout)

	tok, err := readToken(r, conn, deadline)
	if err != nil {
		return false, KindIO, false
	}

	switch tok {
	case TokenConflict:
		return false, KindConflict, true
	case TokenAccepted:
		cfg := t.cfg.Store.GetConfig()
		body, err := os.ReadFile(filePath)
		if err != nil {
			return false, KindIO, false
		}

		payload := Payload{Counter: cfg.ServiceID + 1, Ports: cfg.Ports, Service: body}
		if err := writePayload(conn, time.Now().Add(frameTimeout), payload); err != nil {
			return false, KindIO, false
		}

		final, err := readToken(r, conn, time.Now().Add(frameTimeout))
		if err != nil {
			return false, KindIO, false
		}

		switch final {
		case TokenOkay:
			return true, KindNone, false
		case TokenInternalServerError:
			return false, KindInternalServerError, false
		case TokenTransportError:
			return false, KindTransportError, false
		default:
			return false, KindIO, false
		}
	default:
		return false, KindIO, false
	}
}

func (t *Transporter) dialWithRetry(ctx context.Context, addr string) (net.Conn, error) {
	var lastErr error
	dialer := net.Dialer{Timeout: frameTimeout}

	for attempt := 1; attempt <= t.cfg.DialRetries; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		backoff := t.cfg.DialBackoff * time.Duration(attempt)
		if backoff > t.cfg.DialBackoffCap {
			backoff = t.cfg.DialBackoffCap
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("transport: dial %s failed after %d attempts: %w", addr, t.cfg.DialRetries, lastErr)
}
