package networking

import (
	"sync"
)

// HubStats is a point-in-time view of hub traffic counters.
type HubStats struct {
	Connected       int                       `json:"connected"`
	Pilots          int                       `json:"pilots"`
	Connections     int64                     `json:"connections"`
	Refused         int64                     `json:"refused"`
	Messages        int64                     `json:"messages"`
	Applied         int64                     `json:"applied"`
	Rejected        map[string]int64          `json:"rejected,omitempty"`
	SnapshotsSent   int64                     `json:"snapshots_sent"`
	SnapshotsDrops  map[string]int64          `json:"snapshot_drops,omitempty"`
	LastPayloadSize map[string]int64          `json:"last_payload_bytes,omitempty"`
	Bandwidth       map[string]BandwidthUsage `json:"bandwidth,omitempty"`
}

// hubMetrics tracks connection, intake and broadcast counters.
type hubMetrics struct {
	mu          sync.RWMutex
	connections int64
	refused     int64
	messages    int64
	applied     int64
	rejected    map[string]int64
	sent        int64
	drops       map[string]int64
	payload     map[string]int64
}

func newHubMetrics() *hubMetrics {
	return &hubMetrics{
		rejected: make(map[string]int64),
		drops:    make(map[string]int64),
		payload:  make(map[string]int64),
	}
}

func (m *hubMetrics) connected() {
	m.mu.Lock()
	m.connections++
	m.mu.Unlock()
}

func (m *hubMetrics) refusedConnection() {
	m.mu.Lock()
	m.refused++
	m.mu.Unlock()
}

// intake records one inbound message; an empty reason means it was applied.
func (m *hubMetrics) intake(reason string) {
	m.mu.Lock()
	m.messages++
	if reason == "" {
		m.applied++
	} else {
		m.rejected[reason]++
	}
	m.mu.Unlock()
}

// delivered records a snapshot queued for clientID.
func (m *hubMetrics) delivered(clientID string, size int) {
	m.mu.Lock()
	m.sent++
	m.payload[clientID] = int64(max(size, 0))
	m.mu.Unlock()
}

func (m *hubMetrics) dropped(reason string) {
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

// forget removes per-client gauges for a disconnected client.
func (m *hubMetrics) forget(clientID string) {
	m.mu.Lock()
	delete(m.payload, clientID)
	m.mu.Unlock()
}

func (m *hubMetrics) snapshot() HubStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return HubStats{
		Connections:     m.connections,
		Refused:         m.refused,
		Messages:        m.messages,
		Applied:         m.applied,
		Rejected:        cloneCounts(m.rejected),
		SnapshotsSent:   m.sent,
		SnapshotsDrops:  cloneCounts(m.drops),
		LastPayloadSize: cloneCounts(m.payload),
	}
}

func cloneCounts(in map[string]int64) map[string]int64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int64, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
