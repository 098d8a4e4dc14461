package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// readPollInterval bounds how long Listen blocks in ReadFromUDP between
// checks of ctx.Done, so cancellation is prompt without busy-polling.
const readPollInterval = 500 * time.Millisecond

// Received pairs a decoded Message with the address it arrived from, so a
// listener can reply directly to the sender (e.g. who_is -> who_is_answer).
type Received struct {
	Message Message
	From    *net.UDPAddr
}

// Socket is the broadcast transport ServiceHandler depends on. UDPSocket is
// the production implementation; tests substitute an in-memory fake.
type Socket interface {
	// Broadcast sends msg to every address in addrs on port.
	Broadcast(ctx context.Context, addrs []string, port uint16, msg Message) error
	// Reply sends msg directly to a single address (used to answer who_is).
	Reply(ctx context.Context, to *net.UDPAddr, msg Message) error
	// Listen opens the broadcast port and streams decoded datagrams until
	// ctx is cancelled. Malformed datagrams are logged and skipped.
	Listen(ctx context.Context, port uint16) (<-chan Received, error)
	Close() error
}

// UDPSocket is a Socket backed by a single bound UDP port, used both to
// listen and to originate broadcasts and replies.
type UDPSocket struct {
	conn *net.UDPConn
}

// NewUDPSocket binds port and returns a socket over it. Call Listen on
// the socket to receive the channel of decoded incoming datagrams.
func NewUDPSocket(port uint16) (*UDPSocket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("discovery: bind broadcast port %d: %w", port, err)
	}
	return &UDPSocket{conn: conn}, nil
}

func (s *UDPSocket) Broadcast(ctx context.Context, addrs []string, port uint16, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discovery: encode %s: %w", msg.Event, err)
	}

	var firstErr error
	for _, host := range addrs {
		dst, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			slog.Warn("discovery: resolve broadcast address failed", "addr", host, "error", err)
			continue
		}
		if _, err := s.conn.WriteToUDP(body, dst); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("discovery: broadcast to %s: %w", host, err)
		}
	}
	return firstErr
}

func (s *UDPSocket) Reply(ctx context.Context, to *net.UDPAddr, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("discovery: encode %s: %w", msg.Event, err)
	}
	if _, err := s.conn.WriteToUDP(body, to); err != nil {
		return fmt.Errorf("discovery: reply to %s: %w", to, err)
	}
	return nil
}

func (s *UDPSocket) Listen(ctx context.Context, port uint16) (<-chan Received, error) {
	out := make(chan Received)

	go func() {
		defer close(out)
		buf := make([]byte, 64*1024)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			s.conn.SetReadDeadline(time.Now().Add(readPollInterval))
			n, from, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return
			}

			var msg Message
			if err := json.Unmarshal(buf[:n], &msg); err != nil {
				slog.Warn("discovery: dropping malformed datagram", "from", from, "error", err)
				continue
			}

			select {
			case out <- Received{Message: msg, From: from}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *UDPSocket) Close() error {
	return s.conn.Close()
}
