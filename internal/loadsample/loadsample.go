// Package loadsample implements the agent's CPU/RAM sampler: the "load
// sampler" collaborator named in spec.md §1 as external to the core. It
// polls /proc on a fixed interval via github.com/prometheus/procfs and
// hands the Inspector an averaged (CPU%, RAM%) pair per migration cycle.
package loadsample

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Sampler accumulates CPU and RAM utilization samples between calls to
// Drain, which the Inspector calls once per tick (§4.3 step 7).
type Sampler interface {
	// Run polls the host every interval until ctx is cancelled.
	Run(ctx context.Context)
	// Drain returns the mean CPU% and RAM% observed since the last
	// Drain call and resets the running average.
	Drain() (avgCPU, avgRAM float64)
}

// ProcSampler is the production Sampler backed by procfs reads of
// /proc/stat (CPU jiffies) and /proc/meminfo (RAM).
type ProcSampler struct {
	fs       procfs.FS
	interval time.Duration

	mu     sync.Mutex
	cpuSum float64
	ramSum float64
	n      int

	prevTotal uint64
	prevIdle  uint64
	havePrev  bool
}

// NewProcSampler opens the default procfs mount (/proc) and constructs a
// Sampler that polls it every interval.
func NewProcSampler(interval time.Duration) (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("loadsample: open procfs: %w", err)
	}
	return &ProcSampler{fs: fs, interval: interval}, nil
}

// Run polls /proc/stat and /proc/meminfo every interval until ctx is
// cancelled, accumulating into the running average Drain consumes.
func (s *ProcSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *ProcSampler) sampleOnce() {
	cpuPct, ok := s.cpuPercent()
	if !ok {
		return
	}

	ramPct, err := s.ramPercent()
	if err != nil {
		slog.Warn("loadsample: read meminfo failed", "error", err)
		return
	}

	s.mu.Lock()
	s.cpuSum += cpuPct
	s.ramSum += ramPct
	s.n++
	s.mu.Unlock()
}

// cpuPercent computes instantaneous CPU utilization as the fraction of
// jiffies since the previous sample that were not idle. The first call
// after construction has no prior sample and reports ok=false.
func (s *ProcSampler) cpuPercent() (pct float64, ok bool) {
	stat, err := s.fs.Stat()
	if err != nil {
		slog.Warn("loadsample: read /proc/stat failed", "error", err)
		return 0, false
	}

	c := stat.CPUTotal
	idle := uint64(c.Idle + c.Iowait)
	total := uint64(c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal)

	if !s.havePrev {
		s.prevTotal, s.prevIdle = total, idle
		s.havePrev = true
		return 0, false
	}

	deltaTotal := total - s.prevTotal
	deltaIdle := idle - s.prevIdle
	s.prevTotal, s.prevIdle = total, idle

	if deltaTotal == 0 {
		return 0, true
	}
	return 100 * (1 - float64(deltaIdle)/float64(deltaTotal)), true
}

func (s *ProcSampler) ramPercent() (float64, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("loadsample: read /proc/meminfo: %w", err)
	}
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0, fmt.Errorf("loadsample: meminfo missing MemTotal")
	}

	total := float64(*mi.MemTotal)
	var available float64
	if mi.MemAvailable != nil {
		available = float64(*mi.MemAvailable)
	} else if mi.MemFree != nil {
		available = float64(*mi.MemFree)
	}

	used := total - available
	return 100 * used / total, nil
}

// Drain returns the running averages since the last Drain and resets the
// accumulator, matching the Inspector's "Sample load: (avgCPU, avgRAM) =
// LoadSampler.Drain()" step.
func (s *ProcSampler) Drain() (avgCPU, avgRAM float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n == 0 {
		return 0, 0
	}
	avgCPU = s.cpuSum / float64(s.n)
	avgRAM = s.ramSum / float64(s.n)
	s.cpuSum, s.ramSum, s.n = 0, 0, 0
	return avgCPU, avgRAM
}
