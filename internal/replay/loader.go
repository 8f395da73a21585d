package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// maxEventLine bounds a single decoded event line.
const maxEventLine = 1 << 20

// ErrTruncatedFrame is returned when the frame stream ends inside a record.
var ErrTruncatedFrame = errors.New("truncated replay frame")

// TimelineEntry is one replay datum in deterministic order.
type TimelineEntry struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Type        string
	Payload     []byte
}

// FrameEntryType labels frame entries on the merged timeline.
const FrameEntryType = "frame"

// Bundle is a fully decoded replay directory.
type Bundle struct {
	Dir      string
	Manifest Manifest
	// Header is nil while the bundle is still being written.
	Header *Header
	Events []EventRecord
	Frames []FrameRecord
}

// LoadBundle decodes the manifest, optional header, event log and frame stream in dir.
func LoadBundle(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}
	bundle := &Bundle{Dir: dir}

	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &bundle.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	//1.- A bundle without a header is live or was cut short; its streams are still usable.
	headerPath := filepath.Join(dir, nonEmpty(bundle.Manifest.HeaderPath, headerFileName))
	if header, err := ReadHeader(headerPath); err == nil {
		bundle.Header = &header
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if bundle.Events, err = readEvents(filepath.Join(dir, nonEmpty(bundle.Manifest.EventsPath, eventsFileName))); err != nil {
		return nil, err
	}
	if bundle.Frames, err = readFrames(filepath.Join(dir, nonEmpty(bundle.Manifest.FramesPath, framesFileName))); err != nil {
		return nil, err
	}
	return bundle, nil
}

func nonEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func readEvents(path string) ([]EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	var events []EventRecord
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record EventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events)+1, err)
		}
		events = append(events, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func readFrames(path string) ([]FrameRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	//1.- A live bundle may not have emitted its first zstd block yet.
	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		return nil, nil
	}

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var frames []FrameRecord
	prefix := make([]byte, frameHeaderSize)
	for {
		//2.- A clean EOF only happens on a record boundary.
		if _, err := io.ReadFull(decoder, prefix); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: header of frame %d", ErrTruncatedFrame, len(frames)+1)
			}
			return nil, err
		}
		frame := FrameRecord{
			Tick:        binary.LittleEndian.Uint64(prefix[0:8]),
			SimulatedMs: int64(binary.LittleEndian.Uint64(prefix[8:16])),
			CapturedAt:  time.Unix(0, int64(binary.LittleEndian.Uint64(prefix[16:24]))).UTC(),
		}
		frame.Payload = make([]byte, binary.LittleEndian.Uint32(prefix[24:28]))
		if _, err := io.ReadFull(decoder, frame.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: payload of frame %d", ErrTruncatedFrame, len(frames)+1)
			}
			return nil, err
		}
		frames = append(frames, frame)
	}
}

// Timeline merges frames and events ordered by simulated time, then tick, then type.
func (b *Bundle) Timeline() []TimelineEntry {
	if b == nil {
		return nil
	}
	entries := make([]TimelineEntry, 0, len(b.Events)+len(b.Frames))
	for _, frame := range b.Frames {
		entries = append(entries, TimelineEntry{Tick: frame.Tick, SimulatedMs: frame.SimulatedMs, CapturedAt: frame.CapturedAt, Type: FrameEntryType, Payload: frame.Payload})
	}
	for _, event := range b.Events {
		entries = append(entries, TimelineEntry{Tick: event.Tick, SimulatedMs: event.SimulatedMs, CapturedAt: event.CapturedAt, Type: event.Type, Payload: event.Payload})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].SimulatedMs == entries[j].SimulatedMs {
			if entries[i].Tick == entries[j].Tick {
				return entries[i].Type < entries[j].Type
			}
			return entries[i].Tick < entries[j].Tick
		}
		return entries[i].SimulatedMs < entries[j].SimulatedMs
	})
	return entries
}

// Replay iterates over the merged timeline, stopping at the first callback error.
func (b *Bundle) Replay(apply func(TimelineEntry) error) error {
	if b == nil {
		return fmt.Errorf("bundle not loaded")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range b.Timeline() {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}
