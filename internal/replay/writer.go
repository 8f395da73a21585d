package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// DefaultFrameInterval is how long frames are buffered before they are written in a batch.
const DefaultFrameInterval = 200 * time.Millisecond

const (
	eventsFileName   = "events.jsonl.sz"
	framesFileName   = "frames.bin.zst"
	manifestFileName = "manifest.json"
	headerFileName   = "header.json"

	// frameHeaderSize covers tick, simulated ms, capture time and payload length.
	frameHeaderSize = 8 + 8 + 8 + 4
)

var bundleNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ErrWriterClosed is returned when appending to a writer that was already closed.
var ErrWriterClosed = errors.New("replay writer closed")

// EventRecord is one line of the event log.
type EventRecord struct {
	Tick        uint64          `json:"tick"`
	SimulatedMs int64           `json:"simulated_ms"`
	CapturedAt  time.Time       `json:"captured_at"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// FrameRecord is one length-prefixed entry of the frame stream.
type FrameRecord struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
	HeaderPath      string `json:"header_path"`
}

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithFrameInterval overrides the frame batching cadence.
func WithFrameInterval(interval time.Duration) WriterOption {
	return func(w *Writer) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// Writer streams a run bundle to disk: a snappy-framed JSONL event log and a zstd frame
// stream, plus a manifest up front and a header on close.
type Writer struct {
	mu          sync.Mutex
	dir         string
	now         func() time.Time
	interval    time.Duration
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []FrameRecord
	lastFlush   time.Time
	header      Header
	events      int
	frames      int
	closed      bool
}

// NewWriter creates a fresh bundle directory below root and opens the compressed sinks. It
// refuses to reuse an existing directory.
func NewWriter(root, bundleID string, clock func() time.Time, opts ...WriterOption) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	writer := &Writer{now: clock, interval: DefaultFrameInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(writer)
		}
	}

	cleaned := bundleNameCleaner.ReplaceAllString(bundleID, "")
	if cleaned == "" {
		cleaned = "run"
	}
	created := clock().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))

	//1.- The bundle directory itself must be new so a roll never clobbers an older bundle.
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, Manifest{}, err
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, Manifest{}, fmt.Errorf("create bundle: %w", err)
	}
	writer.dir = path

	manifest := Manifest{
		Version:         1,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(writer.interval / time.Millisecond),
		EventsPath:      eventsFileName,
		FramesPath:      framesFileName,
		HeaderPath:      headerFileName,
	}
	if err := writer.open(manifest); err != nil {
		writer.release()
		return nil, Manifest{}, err
	}
	return writer, manifest, nil
}

func (w *Writer) open(manifest Manifest) error {
	var err error
	if w.eventFile, err = os.Create(filepath.Join(w.dir, eventsFileName)); err != nil {
		return err
	}
	w.eventStream = snappy.NewBufferedWriter(w.eventFile)
	if w.frameFile, err = os.Create(filepath.Join(w.dir, framesFileName)); err != nil {
		return err
	}
	if w.frameStream, err = zstd.NewWriter(w.frameFile); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, manifestFileName), data, 0o644)
}

// release closes whatever open managed to create.
func (w *Writer) release() {
	if w.frameStream != nil {
		w.frameStream.Close()
	}
	if w.frameFile != nil {
		w.frameFile.Close()
	}
	if w.eventStream != nil {
		w.eventStream.Close()
	}
	if w.eventFile != nil {
		w.eventFile.Close()
	}
}

// Directory exposes the directory backing the bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Counts reports how many events and frames were appended so far.
func (w *Writer) Counts() (events, frames int) {
	if w == nil {
		return 0, 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events, w.frames
}

// AppendEvent writes one JSON event line. payload must be valid JSON or empty.
func (w *Writer) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	record := EventRecord{Tick: tick, SimulatedMs: simulatedMs, CapturedAt: captured, Type: eventType}
	if len(payload) > 0 {
		record.Payload = json.RawMessage(payload)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	//1.- Flush per event so a crash loses at most the frame batch, never an event.
	if _, err := w.eventStream.Write(append(line, '\n')); err != nil {
		return err
	}
	w.events++
	return w.eventStream.Flush()
}

// AppendFrame buffers a binary frame and writes the batch once the interval has passed.
func (w *Writer) AppendFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	captured := w.now().UTC()
	clone := append([]byte(nil), payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	w.pending = append(w.pending, FrameRecord{Tick: tick, SimulatedMs: simulatedMs, CapturedAt: captured, Payload: clone})
	w.frames++
	if w.lastFlush.IsZero() {
		w.lastFlush = captured
		return nil
	}
	if captured.Sub(w.lastFlush) >= w.interval {
		if err := w.flushLocked(); err != nil {
			return err
		}
		w.lastFlush = captured
	}
	return nil
}

// SetHeader records the metadata written when the bundle closes.
func (w *Writer) SetHeader(header Header) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.header = header
	w.mu.Unlock()
}

// Flush forces pending frames to be written regardless of cadence.
func (w *Writer) Flush() error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.lastFlush = w.now().UTC()
	return nil
}

// Close writes the header, flushes every buffer and releases the files. Every step is
// attempted; all failures are returned joined.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	header := w.header
	header.SchemaVersion = HeaderSchemaVersion
	header.FilePointer = manifestFileName
	errs := []error{
		w.flushLocked(),
		w.eventStream.Close(),
		w.eventFile.Close(),
		w.frameStream.Close(),
		w.frameFile.Close(),
	}
	//1.- The header goes last: its presence marks the bundle as complete.
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return WriteHeader(filepath.Join(w.dir, headerFileName), header)
}

// flushLocked writes buffered frames to the zstd stream; callers must hold the mutex.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	prefix := make([]byte, frameHeaderSize)
	for _, frame := range w.pending {
		binary.LittleEndian.PutUint64(prefix[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(prefix[8:16], uint64(frame.SimulatedMs))
		binary.LittleEndian.PutUint64(prefix[16:24], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(prefix[24:28], uint32(len(frame.Payload)))
		if _, err := w.frameStream.Write(prefix); err != nil {
			return err
		}
		if _, err := w.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	w.pending = w.pending[:0]
	return nil
}
