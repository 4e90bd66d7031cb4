package governor

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Sample is one reading of host load.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	At            time.Time
}

// Sampler reads current load.
type Sampler interface {
	Sample() (Sample, error)
}

// ProcSampler reads CPU and memory usage from procfs. CPU usage is the
// busy share since the previous call, so the first reading reports 0.
// Where procfs is unavailable it falls back to Go runtime memory stats.
type ProcSampler struct {
	fs    procfs.FS
	hasFS bool

	mu        sync.Mutex
	prevIdle  float64
	prevTotal float64
}

// NewProcSampler creates a sampler reading from mountPoint, normally
// procfs.DefaultMountPoint.
func NewProcSampler(mountPoint string) *ProcSampler {
	fs, err := procfs.NewFS(mountPoint)
	return &ProcSampler{fs: fs, hasFS: err == nil}
}

func (p *ProcSampler) Sample() (Sample, error) {
	now := time.Now()
	if !p.hasFS {
		return Sample{MemoryPercent: runtimeMemoryPercent(), At: now}, nil
	}

	cpu, cpuErr := p.cpuPercent()
	mem, memErr := p.memoryPercent()
	if memErr != nil {
		mem = runtimeMemoryPercent()
	}
	if cpuErr != nil && memErr != nil {
		return Sample{MemoryPercent: mem, At: now}, errors.Join(cpuErr, memErr)
	}
	return Sample{CPUPercent: cpu, MemoryPercent: mem, At: now}, nil
}

func (p *ProcSampler) cpuPercent() (float64, error) {
	stat, err := p.fs.Stat()
	if err != nil {
		return 0, err
	}
	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	total := c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal

	p.mu.Lock()
	defer p.mu.Unlock()

	dIdle := idle - p.prevIdle
	dTotal := total - p.prevTotal
	first := p.prevTotal == 0
	p.prevIdle, p.prevTotal = idle, total
	if first || dTotal <= 0 {
		return 0, nil
	}
	return (1 - dIdle/dTotal) * 100, nil
}

func (p *ProcSampler) memoryPercent() (float64, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return 0, err
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0, errors.New("meminfo: MemTotal or MemAvailable missing")
	}
	used := float64(*mi.MemTotal - *mi.MemAvailable)
	return used / float64(*mi.MemTotal) * 100, nil
}

// runtimeMemoryPercent is the share of memory obtained from the OS that
// the heap currently uses.
func runtimeMemoryPercent() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0
	}
	return float64(ms.HeapInuse) / float64(ms.Sys) * 100
}

// StaticSampler returns whatever was last set. Used in tests and in the
// CLI's simulate mode.
type StaticSampler struct {
	mu  sync.Mutex
	s   Sample
	err error
}

// NewStaticSampler creates a sampler reporting the given load.
func NewStaticSampler(cpu, mem float64) *StaticSampler {
	return &StaticSampler{s: Sample{CPUPercent: cpu, MemoryPercent: mem}}
}

// Set changes the reported load.
func (s *StaticSampler) Set(cpu, mem float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.s.CPUPercent = cpu
	s.s.MemoryPercent = mem
	s.err = nil
}

// Fail makes the next samples return err.
func (s *StaticSampler) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSampler) Sample() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Sample{}, s.err
	}
	out := s.s
	out.At = time.Now()
	return out, nil
}
