package networking

import (
	"sync"
	"time"
)

// BandwidthUsage captures the snapshot throttling state for a single spectator or pilot.
type BandwidthUsage struct {
	AvailableBytes float64   `json:"available_bytes"`
	SentBytes      int64     `json:"sent_bytes"`
	BytesPerSecond float64   `json:"bytes_per_second"`
	Skipped        int64     `json:"skipped"`
	Since          time.Time `json:"since"`
}

type bandwidthBucket struct {
	tokens  float64
	last    time.Time
	since   time.Time
	sent    int64
	skipped int64
}

// BandwidthRegulator is a per-client token bucket for outgoing snapshots. A client over
// budget skips snapshots until the bucket refills; the next snapshot carries full state,
// so skipping never corrupts the view.
type BandwidthRegulator struct {
	mu       sync.Mutex
	buckets  map[string]*bandwidthBucket
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewBandwidthRegulator enforces bytesPerSecond with a one-second burst. A non-positive rate
// returns nil, which allows everything.
func NewBandwidthRegulator(bytesPerSecond float64, clock func() time.Time) *BandwidthRegulator {
	if bytesPerSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &BandwidthRegulator{
		buckets:  make(map[string]*bandwidthBucket),
		capacity: bytesPerSecond,
		refill:   bytesPerSecond,
		now:      clock,
	}
}

func (r *BandwidthRegulator) replenish(bucket *bandwidthBucket, now time.Time) {
	//1.- Ignore clock regressions; the bucket simply waits for time to catch up.
	if !now.After(bucket.last) {
		return
	}
	bucket.tokens = min(bucket.tokens+now.Sub(bucket.last).Seconds()*r.refill, r.capacity)
	bucket.last = now
}

// Allow charges size bytes against clientID's budget and reports whether to send.
func (r *BandwidthRegulator) Allow(clientID string, size int) bool {
	if r == nil || clientID == "" || size <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket := r.buckets[clientID]
	if bucket == nil {
		//1.- New clients start with a full bucket so the first view arrives immediately.
		bucket = &bandwidthBucket{tokens: r.capacity, last: now, since: now}
		r.buckets[clientID] = bucket
	}
	r.replenish(bucket, now)
	if float64(size) > bucket.tokens {
		bucket.skipped++
		return false
	}
	bucket.tokens -= float64(size)
	bucket.sent += int64(size)
	return true
}

// Forget removes the bucket for a disconnected client.
func (r *BandwidthRegulator) Forget(clientID string) {
	if r == nil || clientID == "" {
		return
	}
	r.mu.Lock()
	delete(r.buckets, clientID)
	r.mu.Unlock()
}

// Usage reports throttling statistics per client.
func (r *BandwidthRegulator) Usage() map[string]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buckets) == 0 {
		return nil
	}
	now := r.now()
	usage := make(map[string]BandwidthUsage, len(r.buckets))
	for clientID, bucket := range r.buckets {
		r.replenish(bucket, now)
		sample := BandwidthUsage{AvailableBytes: bucket.tokens, SentBytes: bucket.sent, Skipped: bucket.skipped, Since: bucket.since}
		if observed := now.Sub(bucket.since).Seconds(); observed > 0 {
			sample.BytesPerSecond = float64(bucket.sent) / observed
		}
		usage[clientID] = sample
	}
	return usage
}
