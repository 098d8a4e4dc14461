package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/meshnet-project/meshagentd/internal/serviced"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	status serviced.Status
	config serviced.Config
	reset  int
}

func (s *fakeStore) GetStatus() serviced.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeStore) SetStatus(st serviced.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	return nil
}

func (s *fakeStore) GetConfig() serviced.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

func (s *fakeStore) SetConfig(id uint64, ports []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = serviced.Config{ServiceID: id, Ports: ports}
}

func (s *fakeStore) Reset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset++
	s.status = serviced.Status{Kind: serviced.NotStarted}
	return true
}

type fakeMediator struct {
	status serviced.Status
	err    error
}

func (m *fakeMediator) ServiceReceived(ctx context.Context) (serviced.Status, error) {
	return m.status, m.err
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func TestTransporter_Receive_ConflictWhenAlreadyStarted(t *testing.T) {
	store := &fakeStore{status: serviced.Status{Kind: serviced.Started}}
	port := freePort(t)
	tr := New(Config{Port: port, ServiceFilePath: t.TempDir() + "/svc", Store: store})
	tr.SetMediator(&fakeMediator{status: serviced.Status{Kind: serviced.Started}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addrFor(port))
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	tok := readTokenFromConn(t, r, conn)
	assert.Equal(t, TokenConflict, tok)
}

func TestTransporter_Receive_FullHandoffSucceeds(t *testing.T) {
	store := &fakeStore{status: serviced.Status{Kind: serviced.NotStarted}}
	port := freePort(t)
	svcPath := t.TempDir() + "/svc"
	tr := New(Config{Port: port, ServiceFilePath: svcPath, Store: store})
	tr.SetMediator(&fakeMediator{status: serviced.Status{Kind: serviced.Started}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addrFor(port))
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	assert.Equal(t, TokenAccepted, readTokenFromConn(t, r, conn))

	writeTokenFromConn(t, conn, []byte(mustJSON(Payload{Counter: 8, Ports: []uint16{9000}, Service: []byte("binary")})))

	assert.Equal(t, TokenOkay, readTokenFromConn(t, r, conn))
	assert.Equal(t, uint64(8), store.GetConfig().ServiceID)

	body, err := os.ReadFile(svcPath)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(body))
}

func TestTransporter_Receive_MalformedPayloadResets(t *testing.T) {
	store := &fakeStore{status: serviced.Status{Kind: serviced.NotStarted}}
	port := freePort(t)
	tr := New(Config{Port: port, ServiceFilePath: t.TempDir() + "/svc", Store: store})
	tr.SetMediator(&fakeMediator{status: serviced.Status{Kind: serviced.Started}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addrFor(port))
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	assert.Equal(t, TokenAccepted, readTokenFromConn(t, r, conn))
	writeTokenFromConn(t, conn, []byte{})

	assert.Equal(t, TokenTransportError, readTokenFromConn(t, r, conn))
	assert.Equal(t, 1, store.reset)
}

func TestTransporter_Send_LockedWhenAlreadySending(t *testing.T) {
	store := &fakeStore{}
	tr := New(Config{Port: 1, Store: store, Resolver: func(mesh.NodeID) string { return "127.0.0.1" }})
	tr.sendMu.Lock()
	defer tr.sendMu.Unlock()

	ok, kind := tr.Send(context.Background(), []mesh.NodeID{2}, "x")
	assert.False(t, ok)
	assert.Equal(t, KindLocked, kind)
}

func TestTransporter_Send_ConflictStopsImmediately(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		writeTokenFromConn(t, conn, []byte(TokenConflict))
	}()

	store := &fakeStore{}
	tr := New(Config{Port: port, Store: store, Resolver: func(mesh.NodeID) string { return "127.0.0.1" }, DialRetries: 1})

	ok, kind := tr.Send(context.Background(), []mesh.NodeID{2, 3}, "x")
	assert.False(t, ok)
	assert.Equal(t, KindConflict, kind)
}

func addrFor(port uint16) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func readTokenFromConn(t *testing.T, r *bufio.Reader, conn net.Conn) Token {
	t.Helper()
	tok, err := readToken(r, conn, time.Now().Add(5*time.Second))
	require.NoError(t, err)
	return tok
}

func writeTokenFromConn(t *testing.T, conn net.Conn, body []byte) {
	t.Helper()
	require.NoError(t, writeFrame(conn, time.Now().Add(5*time.Second), body))
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
