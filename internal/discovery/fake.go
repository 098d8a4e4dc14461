package discovery

import (
	"context"
	"net"
	"sync"
)

// FakeSocket is an in-memory Socket for tests. Broadcast and Reply record
// every call; Listen replays messages pushed with Push.
type FakeSocket struct {
	mu         sync.Mutex
	Broadcasts []Message
	Replies    []Message
	incoming   chan Received
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{incoming: make(chan Received, 16)}
}

func (f *FakeSocket) Broadcast(_ context.Context, _ []string, _ uint16, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Broadcasts = append(f.Broadcasts, msg)
	return nil
}

func (f *FakeSocket) Reply(_ context.Context, _ *net.UDPAddr, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Replies = append(f.Replies, msg)
	return nil
}

func (f *FakeSocket) Listen(ctx context.Context, _ uint16) (<-chan Received, error) {
	return f.incoming, nil
}

// Push injects a datagram as if it had arrived from addr.
func (f *FakeSocket) Push(msg Message, addr *net.UDPAddr) {
	f.incoming <- Received{Message: msg, From: addr}
}

func (f *FakeSocket) Close() error {
	close(f.incoming)
	return nil
}
