// Package launcher implements the agent's service-launcher collaborator
// (spec.md §1, §4.4): starting the opaque user service as a child
// process and reporting which TCP ports it has bound, without resorting
// to a textual netstat-style parse (§9's redesign note). It satisfies
// serviced.Launcher.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/prometheus/procfs"
)

// Launcher starts the service executable as a child process and answers
// port-discovery polls by reading the kernel's TCP socket table through
// procfs and correlating it against the child's open file descriptors —
// a structured read of the same data the original's textual parse
// scraped.
type Launcher struct {
	fs procfs.FS

	mu       sync.Mutex
	children map[int]*exec.Cmd
}

// New opens the default procfs mount and constructs a Launcher.
func New() (*Launcher, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("launcher: open procfs: %w", err)
	}
	return &Launcher{fs: fs, children: make(map[int]*exec.Cmd)}, nil
}

// Launch starts filePath (expected to already be executable, per the
// Transporter's receive path, which persists it with mode 0755) as a
// child process and returns its PID. The child is bound to ctx: it is
// killed when ctx is cancelled.
func (l *Launcher) Launch(ctx context.Context, filePath string) (int, error) {
	cmd := exec.CommandContext(ctx, filePath)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launcher: start %s: %w", filePath, err)
	}

	l.mu.Lock()
	l.children[cmd.Process.Pid] = cmd
	l.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		l.mu.Lock()
		delete(l.children, cmd.Process.Pid)
		l.mu.Unlock()
	}()

	return cmd.Process.Pid, nil
}

// Stop sends an interrupt to the tracked child process pid (not to its
// process group).
func (l *Launcher) Stop(pid int) error {
	l.mu.Lock()
	cmd, ok := l.children[pid]
	l.mu.Unlock()

	if !ok || cmd.Process == nil {
		return fmt.Errorf("launcher: no tracked child with pid %d", pid)
	}
	return cmd.Process.Signal(os.Interrupt)
}

// ListeningPorts returns the TCP (v4 and v6) ports pid currently has in
// LISTEN state. It joins the process's open file descriptor targets
// (which name their backing socket inodes as "socket:[N]") against the
// kernel's /proc/net/tcp{,6} tables, which carry the inode and state of
// every socket system-wide.
func (l *Launcher) ListeningPorts(pid int) ([]uint16, error) {
	proc, err := l.fs.Proc(pid)
	if err != nil {
		// The child may have exited or not yet be visible; report no
		// ports rather than erroring, so the poller just tries again.
		return nil, nil
	}

	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		return nil, fmt.Errorf("launcher: read fds for pid %d: %w", pid, err)
	}
	inodes := socketInodesFromTargets(targets)
	if len(inodes) == 0 {
		return nil, nil
	}

	var ports []uint16
	for _, listLoad := range []func() (procfs.NetTCP, error){l.fs.NetTCP, l.fs.NetTCP6} {
		entries, err := listLoad()
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !inodes[e.Inode] {
				continue
			}
			const tcpListen = 0x0A
			if e.St != tcpListen {
				continue
			}
			ports = append(ports, uint16(e.LocalPort))
		}
	}

	return ports, nil
}

// socketInodesFromTargets returns the set of socket inode numbers named
// by a process's /proc/pid/fd symlink targets (each reading
// "socket:[N]" for a socket fd, something else for every other kind).
func socketInodesFromTargets(targets []string) map[uint64]bool {
	inodes := make(map[uint64]bool)
	for _, t := range targets {
		var n uint64
		if _, err := fmt.Sscanf(t, "socket:[%d]", &n); err != nil {
			continue
		}
		inodes[n] = true
	}
	return inodes
}
