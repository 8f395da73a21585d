package input

import (
	"sync"
	"testing"
	"time"

	"tunnelflight/engine/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestGate(clock Clock) *Gate {
	return NewGate(GateConfig{MaxAge: 250 * time.Millisecond, MinInterval: time.Second / 60}, logging.NewTestLogger(), WithClock(clock))
}

func TestGateRejectsNonMonotonicSequence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	//1.- Accept the initial frame to seed client state.
	if first := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 1}); !first.Accepted {
		t.Fatalf("first frame unexpectedly rejected: %+v", first)
	}

	//2.- Replaying the sequence, or sending zero, is rejected.
	clock.Advance(time.Second)
	if second := gate.Evaluate(Frame{ClientID: "conn-1", SequenceID: 1}); second.Accepted || second.Reason != DropReasonSequence {
		t.Fatalf("expected sequence drop, got %+v", second)
	}
	if zero := gate.Evaluate(Frame{ClientID: "conn-1"}); zero.Accepted {
		t.Fatalf("sequence zero must be rejected, got %+v", zero)
	}
	if metrics := gate.Metrics(); metrics["conn-1"].Sequence != 2 {
		t.Fatalf("sequence drops = %d, want 2", metrics["conn-1"].Sequence)
	}
}

func TestGateRejectsStaleFrames(t *testing.T) {
	clock := &fakeClock{now: time.Unix(10, 0)}
	gate := newTestGate(clock)

	if decision := gate.Evaluate(Frame{ClientID: "pilot", SequenceID: 1}); !decision.Accepted {
		t.Fatalf("initial frame rejected: %+v", decision)
	}

	//1.- Without a capture stamp the arrival gap reveals the delay.
	clock.Advance(600 * time.Millisecond)
	if stale := gate.Evaluate(Frame{ClientID: "pilot", SequenceID: 2}); stale.Accepted || stale.Reason != DropReasonStale {
		t.Fatalf("expected stale drop, got %+v", stale)
	}

	//2.- With a capture stamp the measured delay decides.
	old := clock.Now().Add(-time.Second)
	if stale := gate.Evaluate(Frame{ClientID: "pilot", SequenceID: 3, SentAt: old}); stale.Reason != DropReasonStale || stale.Delay != time.Second {
		t.Fatalf("expected stamped stale drop, got %+v", stale)
	}
	fresh := clock.Now().Add(-10 * time.Millisecond)
	if decision := gate.Evaluate(Frame{ClientID: "pilot", SequenceID: 4, SentAt: fresh}); !decision.Accepted {
		t.Fatalf("fresh frame rejected: %+v", decision)
	}
	if metrics := gate.Metrics()["pilot"]; metrics.Stale != 2 {
		t.Fatalf("stale drops = %d, want 2", metrics.Stale)
	}
}

func TestGateRateLimitsHighFrequencyFrames(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	if decision := gate.Evaluate(Frame{ClientID: "conn", SequenceID: 1}); !decision.Accepted {
		t.Fatalf("initial frame rejected: %+v", decision)
	}
	clock.Advance(5 * time.Millisecond)
	if burst := gate.Evaluate(Frame{ClientID: "conn", SequenceID: 2}); burst.Accepted || burst.Reason != DropReasonRateLimited {
		t.Fatalf("expected rate limit drop, got %+v", burst)
	}
	if metrics := gate.Metrics()["conn"]; metrics.RateLimited != 1 {
		t.Fatalf("rate limited drops = %d, want 1", metrics.RateLimited)
	}
}

func TestGateThrottlesOnlyRepeatedKeys(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	//1.- Distinct keys at the same instant are separate edges and all pass.
	for seq, key := range []string{"set right=false", "set left=false", "cut"} {
		if decision := gate.Evaluate(Frame{ClientID: "pad", SequenceID: uint64(seq + 1), Key: key}); !decision.Accepted {
			t.Fatalf("frame %q rejected: %+v", key, decision)
		}
	}
	//2.- An exact repeat inside the interval is throttled; after it, the repeat passes.
	if repeat := gate.Evaluate(Frame{ClientID: "pad", SequenceID: 4, Key: "cut"}); repeat.Accepted || repeat.Reason != DropReasonRateLimited {
		t.Fatalf("expected repeated cut to be throttled, got %+v", repeat)
	}
	clock.Advance(time.Second / 30)
	if later := gate.Evaluate(Frame{ClientID: "pad", SequenceID: 5, Key: "cut"}); !later.Accepted {
		t.Fatalf("expected repeat after the interval to pass, got %+v", later)
	}
}

func TestGateForgetClearsClientState(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	gate := newTestGate(clock)

	gate.Evaluate(Frame{ClientID: "conn", SequenceID: 5})
	gate.Evaluate(Frame{ClientID: "conn", SequenceID: 5})

	gate.Forget("conn")
	if _, tracked := gate.Metrics()["conn"]; tracked {
		t.Fatal("expected metrics reset after forget")
	}
	clock.Advance(time.Second)
	if decision := gate.Evaluate(Frame{ClientID: "conn", SequenceID: 1}); !decision.Accepted {
		t.Fatalf("expected new session acceptance, got %+v", decision)
	}
}

func TestFrameOfCarriesTimestamp(t *testing.T) {
	frame := FrameOf("c", ControlFrame{Sequence: 9, SentAtMs: 1500})
	if frame.SequenceID != 9 || !frame.SentAt.Equal(time.UnixMilli(1500)) {
		t.Fatalf("unexpected frame %+v", frame)
	}
	if !FrameOf("c", ControlFrame{Sequence: 1}).SentAt.IsZero() {
		t.Fatal("missing stamp should stay zero")
	}
}
