package loadsample

import "testing"

func TestProcSampler_DrainWithNoSamplesReturnsZero(t *testing.T) {
	s := &ProcSampler{}
	cpu, ram := s.Drain()
	if cpu != 0 || ram != 0 {
		t.Errorf("Drain() with no samples = (%v, %v), want (0, 0)", cpu, ram)
	}
}

func TestProcSampler_DrainAveragesAndResets(t *testing.T) {
	s := &ProcSampler{}
	s.mu.Lock()
	s.cpuSum, s.ramSum, s.n = 30, 60, 3
	s.mu.Unlock()

	cpu, ram := s.Drain()
	if cpu != 10 {
		t.Errorf("avgCPU = %v, want 10", cpu)
	}
	if ram != 20 {
		t.Errorf("avgRAM = %v, want 20", ram)
	}

	cpu, ram = s.Drain()
	if cpu != 0 || ram != 0 {
		t.Errorf("second Drain() should be empty, got (%v, %v)", cpu, ram)
	}
}

func TestProcSampler_ZeroValueHasNoCPUBaseline(t *testing.T) {
	s := &ProcSampler{}
	if s.havePrev {
		t.Fatal("zero-value sampler should not have a previous sample")
	}
}
