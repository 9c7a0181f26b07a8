// Package procmon samples CPU/memory/bandwidth resource usage for a running
// subprocess, for surfacing through the control-plane API. It is the
// cross-platform counterpart of internal/ffmpeg.ProcessMonitor, which reads
// /proc directly and so only works on Linux; procmon delegates that part to
// gopsutil so the same control-plane endpoint works on any OS the recorder
// daemon runs on.
package procmon

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Stats is a snapshot of one process's resource usage, reported by the
// control-plane API alongside a recording's section/segment counters.
type Stats struct {
	PID              int32         `json:"pid"`
	CPUPercent       float64       `json:"cpu_percent"`
	RSSBytes         uint64        `json:"rss_bytes"`
	BytesRead        uint64        `json:"bytes_read"`
	BytesWritten     uint64        `json:"bytes_written"`
	ReadBytesPerSec  float64       `json:"read_bytes_per_sec"`
	WriteBytesPerSec float64       `json:"write_bytes_per_sec"`
	Uptime           time.Duration `json:"uptime"`
}

// defaultInterval matches the steady-state sampling cadence used by
// internal/ffmpeg.ProcessMonitor.
const defaultInterval = 2 * time.Second

// Monitor samples one process on a ticker until Stop is called.
type Monitor struct {
	proc      *process.Process
	interval  time.Duration
	startedAt time.Time

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	mu    sync.RWMutex
	stats Stats

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMonitor builds a Monitor for pid. It fails if the process does not
// exist at construction time; a process that exits later simply stops
// producing fresh samples (the last snapshot is retained).
func NewMonitor(pid int) (*Monitor, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("procmon: process %d not found: %w", pid, err)
	}
	return &Monitor{
		proc:      proc,
		interval:  defaultInterval,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		stats:     Stats{PID: int32(pid)},
	}, nil
}

// WithInterval overrides the default sampling cadence. Call before Start.
func (m *Monitor) WithInterval(d time.Duration) *Monitor {
	m.interval = d
	return m
}

// Start begins sampling in a background goroutine, taking one sample
// immediately so Stats is populated even before the first tick.
func (m *Monitor) Start() {
	m.doneCh = make(chan struct{})
	m.sample()
	go m.loop()
}

// Stop ends sampling and waits for the background goroutine to exit. Safe
// to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.doneCh != nil {
		<-m.doneCh
	}
}

func (m *Monitor) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) sample() {
	cpuPct, _ := m.proc.CPUPercent()

	var rss uint64
	if memInfo, err := m.proc.MemoryInfo(); err == nil && memInfo != nil {
		rss = memInfo.RSS
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := time.Since(m.startedAt).Seconds()
	read := m.bytesRead.Load()
	written := m.bytesWritten.Load()
	var readRate, writeRate float64
	if elapsed > 0 {
		readRate = float64(read) / elapsed
		writeRate = float64(written) / elapsed
	}

	m.stats = Stats{
		PID:              m.stats.PID,
		CPUPercent:       cpuPct,
		RSSBytes:         rss,
		BytesRead:        read,
		BytesWritten:     written,
		ReadBytesPerSec:  readRate,
		WriteBytesPerSec: writeRate,
		Uptime:           time.Since(m.startedAt),
	}
}

// Stats returns the most recent sample.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// AddBytesRead/AddBytesWritten let a caller feed byte counters (e.g. from a
// counting reader/writer wrapped around the monitored subprocess's pipes)
// into the next bandwidth sample.
func (m *Monitor) AddBytesRead(n uint64)    { m.bytesRead.Add(n) }
func (m *Monitor) AddBytesWritten(n uint64) { m.bytesWritten.Add(n) }

// CountingWriter wraps an io.Writer, feeding every write's byte count into
// a Monitor so bandwidth shows up in its next sample.
type CountingWriter struct {
	w       io.Writer
	monitor *Monitor
}

// NewCountingWriter wraps w so every write is also reported to monitor.
func NewCountingWriter(w io.Writer, monitor *Monitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}
