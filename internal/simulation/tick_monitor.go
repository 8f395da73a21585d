package simulation

import (
	"sync"
	"time"
)

// DefaultStatsWindow is the number of frames averaged when no window is configured.
const DefaultStatsWindow = 120

// TickMetricsSnapshot summarises recent frame and compute timings.
type TickMetricsSnapshot struct {
	Frames     uint64        `json:"frames"`
	Samples    int           `json:"samples"`
	Average    time.Duration `json:"average_ns"`
	Max        time.Duration `json:"max_ns"`
	Last       time.Duration `json:"last_ns"`
	Compute    time.Duration `json:"compute_ns"`
	MaxCompute time.Duration `json:"max_compute_ns"`
}

// AverageFPS derives the frames-per-second equivalent of the sampled frame interval.
func (s TickMetricsSnapshot) AverageFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// TickMonitor keeps a rolling window of frame intervals and step compute times. It is
// independent of the run lifecycle, so world resets do not clear it.
type TickMonitor struct {
	mu      sync.Mutex
	frames  uint64
	window  []time.Duration
	compute []time.Duration
	next    int
	filled  int
	last    time.Duration
}

// NewTickMonitor constructs a monitor averaging over window frames.
func NewTickMonitor(window int) *TickMonitor {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	return &TickMonitor{
		window:  make([]time.Duration, window),
		compute: make([]time.Duration, window),
	}
}

// Observe records one frame: the interval since the previous frame and the time spent
// stepping the world.
func (m *TickMonitor) Observe(interval, compute time.Duration) {
	if m == nil || interval <= 0 {
		return
	}
	m.mu.Lock()
	//1.- Overwrite the oldest slot once the ring is full.
	m.window[m.next] = interval
	m.compute[m.next] = max(compute, 0)
	m.next = (m.next + 1) % len(m.window)
	if m.filled < len(m.window) {
		m.filled++
	}
	m.frames++
	m.last = interval
	m.mu.Unlock()
}

// Snapshot returns the aggregated statistics over the current window.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := TickMetricsSnapshot{Frames: m.frames, Samples: m.filled, Last: m.last}
	if m.filled == 0 {
		return snapshot
	}
	var total, totalCompute time.Duration
	for i := 0; i < m.filled; i++ {
		total += m.window[i]
		totalCompute += m.compute[i]
		snapshot.Max = max(snapshot.Max, m.window[i])
		snapshot.MaxCompute = max(snapshot.MaxCompute, m.compute[i])
	}
	snapshot.Average = total / time.Duration(m.filled)
	snapshot.Compute = totalCompute / time.Duration(m.filled)
	return snapshot
}

// Reset clears the window so a fresh measurement period can begin.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	clear(m.window)
	clear(m.compute)
	m.next, m.filled, m.frames, m.last = 0, 0, 0, 0
	m.mu.Unlock()
}
