package main

import (
	"encoding/json"
	"errors"
	"math"
	"sync"

	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/replay"
	"tunnelflight/engine/internal/simulation"
)

// replayRecorder is the subset of the replay recorder the sink writes to.
type replayRecorder interface {
	RecordEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error
	RecordFrame(tick uint64, simulatedMs int64, payload []byte) error
}

// replaySink turns published snapshots into replay events and frames. Simulated time is
// the running sum of the clamped steps, so a replay reproduces the world clock rather than
// the wall clock.
type replaySink struct {
	recorder replayRecorder
	logger   *logging.Logger

	mu        sync.Mutex
	simulated float64
	warned    bool
}

func newReplaySink(recorder replayRecorder, logger *logging.Logger) *replaySink {
	if logger == nil {
		logger = logging.L()
	}
	return &replaySink{recorder: recorder, logger: logger}
}

// Publish implements simulation.Sink.
func (s *replaySink) Publish(snapshot simulation.Snapshot) {
	if s == nil || s.recorder == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Advance the simulated clock before stamping anything from this tick.
	s.simulated += snapshot.Step * 1000
	simulatedMs := int64(math.Round(s.simulated))

	//2.- Events land first so a reader sees them before the frame that shows their outcome.
	for _, event := range snapshot.Events {
		payload, err := json.Marshal(event)
		if err != nil {
			s.fail(err)
			continue
		}
		if err := s.recorder.RecordEvent(snapshot.Tick, simulatedMs, string(event.Kind), payload); err != nil {
			s.fail(err)
		}
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.recorder.RecordFrame(snapshot.Tick, simulatedMs, payload); err != nil {
		s.fail(err)
		return
	}
	s.warned = false
}

// SimulatedMs reports the simulated time recorded so far.
func (s *replaySink) SimulatedMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Round(s.simulated))
}

func (s *replaySink) fail(err error) {
	//1.- One warning per failure streak; the recorder counts every append failure.
	if s.warned {
		return
	}
	s.warned = true
	if errors.Is(err, replay.ErrWriterClosed) {
		s.logger.Debug("replay recorder closed", logging.Error(err))
		return
	}
	s.logger.Warn("replay append failed", logging.Error(err))
}
