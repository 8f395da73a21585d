package replay

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNothingRecorded is returned by Roll when the active bundle is still empty.
var ErrNothingRecorded = errors.New("no replay data recorded")

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	ActiveDir      string    `json:"active_dir,omitempty"`
	ActiveEvents   int       `json:"active_events"`
	ActiveFrames   int       `json:"active_frames"`
	Dumps          int64     `json:"dumps"`
	LastDumpURI    string    `json:"last_dump_uri,omitempty"`
	LastDumpTime   time.Time `json:"last_dump_time,omitempty"`
	AppendFailures int64     `json:"append_failures"`
}

// Recorder owns the active bundle writer and rolls it over on demand, so a long session
// becomes a series of self-contained bundles.
type Recorder struct {
	mu       sync.Mutex
	root     string
	now      func() time.Time
	opts     []WriterOption
	header   Header
	sequence int
	writer   *Writer
	failures int64
	dumps    int64
	lastDump time.Time
	lastURI  string
}

// NewRecorder opens the first bundle below root. header supplies the session metadata
// stamped into every bundle.
func NewRecorder(root string, header Header, clock func() time.Time, opts ...WriterOption) (*Recorder, error) {
	if root == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	recorder := &Recorder{root: root, now: clock, opts: opts, header: header}
	if err := recorder.openLocked(); err != nil {
		return nil, err
	}
	return recorder, nil
}

func (r *Recorder) openLocked() error {
	r.sequence++
	id := fmt.Sprintf("%s-%04d", nonEmpty(r.header.SessionID, "run"), r.sequence)
	writer, _, err := NewWriter(r.root, id, r.now, r.opts...)
	if err != nil {
		return err
	}
	writer.SetHeader(r.header)
	r.writer = writer
	return nil
}

// RecordEvent appends an event to the active bundle.
func (r *Recorder) RecordEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error {
	if r == nil {
		return fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count(r.writer.AppendEvent(tick, simulatedMs, eventType, payload))
}

// RecordFrame appends a frame to the active bundle.
func (r *Recorder) RecordFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if r == nil {
		return fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count(r.writer.AppendFrame(tick, simulatedMs, payload))
}

func (r *Recorder) count(err error) error {
	if err != nil {
		r.failures++
	}
	return err
}

// Roll closes the active bundle and opens the next one, returning the closed directory.
func (r *Recorder) Roll() (string, error) {
	if r == nil {
		return "", fmt.Errorf("recorder not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return "", ErrWriterClosed
	}

	//1.- Refuse to produce empty bundles.
	if events, frames := r.writer.Counts(); events == 0 && frames == 0 {
		return "", ErrNothingRecorded
	}
	closed := r.writer.Directory()
	if err := r.writer.Close(); err != nil {
		return "", fmt.Errorf("close bundle %s: %w", closed, err)
	}
	r.dumps++
	r.lastDump = r.now().UTC()
	r.lastURI = closed

	//2.- Recording continues into a fresh bundle.
	if err := r.openLocked(); err != nil {
		r.writer = nil
		return closed, fmt.Errorf("open next bundle: %w", err)
	}
	return closed, nil
}

// Close finalises the active bundle.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.lastURI = r.writer.Directory()
	r.writer = nil
	return err
}

// Active returns the directory of the bundle currently being written.
func (r *Recorder) Active() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Directory()
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{
		ActiveDir:      r.writer.Directory(),
		Dumps:          r.dumps,
		LastDumpURI:    r.lastURI,
		LastDumpTime:   r.lastDump,
		AppendFailures: r.failures,
	}
	stats.ActiveEvents, stats.ActiveFrames = r.writer.Counts()
	return stats
}
