package launcher

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketInodesFromTargets(t *testing.T) {
	inodes := socketInodesFromTargets([]string{
		"socket:[12345]",
		"/dev/null",
		"pipe:[999]",
		"socket:[999]",
		"anon_inode:[eventpoll]",
	})

	assert.True(t, inodes[12345])
	assert.True(t, inodes[999])
	assert.False(t, inodes[888])
	assert.Len(t, inodes, 2)
}

func TestLaunch_TracksChildUntilExit(t *testing.T) {
	path, err := exec.LookPath("true")
	require.NoError(t, err)

	l := &Launcher{children: make(map[int]*exec.Cmd)}

	pid, err := l.Launch(context.Background(), path)
	require.NoError(t, err)
	require.NotZero(t, pid)

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		_, tracked := l.children[pid]
		return !tracked
	}, time.Second, 10*time.Millisecond, "child should be untracked once it exits")
}

func TestStop_UnknownPidErrors(t *testing.T) {
	l := &Launcher{children: make(map[int]*exec.Cmd)}
	err := l.Stop(999999)
	assert.Error(t, err)
}

func TestListeningPorts_UnknownPidReturnsEmptyNotError(t *testing.T) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		t.Skipf("procfs unavailable in this environment: %v", err)
	}

	l := &Launcher{fs: fs, children: make(map[int]*exec.Cmd)}
	ports, err := l.ListeningPorts(1 << 30)
	assert.NoError(t, err)
	assert.Empty(t, ports)
}
