package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"tunnelflight/engine/internal/gameplay"
)

func TestWriterRoundTripThroughLoader(t *testing.T) {
	tmp := t.TempDir()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "Session #1", clock, WithFrameInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if manifest.FrameIntervalMs != 50 || manifest.HeaderPath != "header.json" {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	if filepath.Base(writer.Directory()) != "Session1-20260310T120000Z" {
		t.Fatalf("unexpected bundle name %s", writer.Directory())
	}
	writer.SetHeader(Header{SessionID: "s1", Seed: 42, Preset: "expert", Tuning: gameplay.DefaultTuning()})

	//1.- Interleave events and frames across a few cadence windows.
	if err := writer.AppendEvent(1, 16, "started", nil); err != nil {
		t.Fatalf("append event: %v", err)
	}
	for tick := uint64(1); tick <= 6; tick++ {
		now = now.Add(20 * time.Millisecond)
		if err := writer.AppendFrame(tick, int64(tick)*16, []byte{byte(tick), 0xAA}); err != nil {
			t.Fatalf("append frame %d: %v", tick, err)
		}
	}
	if err := writer.AppendEvent(6, 96, "died", []byte(`{"cause":"wall"}`)); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := writer.AppendEvent(6, 96, "bad", []byte(`{not json`)); err == nil {
		t.Fatal("invalid payload should be rejected")
	}
	if events, frames := writer.Counts(); events != 2 || frames != 6 {
		t.Fatalf("unexpected counts %d/%d", events, frames)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if err := writer.AppendFrame(7, 112, nil); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}

	//2.- The loader sees exactly what was written.
	bundle, err := LoadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if bundle.Header == nil || bundle.Header.Seed != 42 || bundle.Header.Preset != "expert" || bundle.Header.FilePointer != "manifest.json" {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if bundle.Header.Tuning != gameplay.DefaultTuning() {
		t.Fatal("tuning should survive the header round trip")
	}
	if len(bundle.Events) != 2 || bundle.Events[1].Type != "died" || string(bundle.Events[1].Payload) != `{"cause":"wall"}` {
		t.Fatalf("unexpected events %+v", bundle.Events)
	}
	if !bundle.Events[0].CapturedAt.Equal(base) {
		t.Fatalf("unexpected capture time %v", bundle.Events[0].CapturedAt)
	}
	if len(bundle.Frames) != 6 {
		t.Fatalf("expected 6 frames, got %d", len(bundle.Frames))
	}
	for i, frame := range bundle.Frames {
		if frame.Tick != uint64(i+1) || frame.Payload[0] != byte(i+1) || frame.SimulatedMs != int64(i+1)*16 {
			t.Fatalf("frame %d mismatch: %+v", i, frame)
		}
	}
	if !bundle.Frames[0].CapturedAt.Equal(base.Add(20 * time.Millisecond)) {
		t.Fatalf("unexpected frame capture time %v", bundle.Frames[0].CapturedAt)
	}
}

func TestWriterRefusesExistingBundle(t *testing.T) {
	tmp := t.TempDir()
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	first, _, err := NewWriter(tmp, "dup", clock)
	if err != nil {
		t.Fatalf("first writer: %v", err)
	}
	defer first.Close()
	if _, _, err := NewWriter(tmp, "dup", clock); err == nil {
		t.Fatal("expected an error for a clashing bundle directory")
	}
}

func TestBundleTimelineOrdering(t *testing.T) {
	bundle := &Bundle{
		Events: []EventRecord{{Tick: 2, SimulatedMs: 32, Type: "collected"}, {Tick: 1, SimulatedMs: 16, Type: "started"}},
		Frames: []FrameRecord{{Tick: 2, SimulatedMs: 32}, {Tick: 1, SimulatedMs: 16}},
	}
	var order []string
	err := bundle.Replay(func(entry TimelineEntry) error {
		order = append(order, entry.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := []string{"frame", "started", "collected", "frame"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
	stop := errors.New("stop")
	if err := bundle.Replay(func(TimelineEntry) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestLoadBundleDetectsTruncatedFrames(t *testing.T) {
	tmp := t.TempDir()
	writer, _, err := NewWriter(tmp, "cut", nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.AppendFrame(1, 16, []byte("abcdef")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	//1.- Rewrite the frame stream with the payload cut short.
	bundle, err := LoadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	framesPath := filepath.Join(writer.Directory(), framesFileName)
	rewriteFrames(t, framesPath, bundle.Frames[0], 3)

	if _, err := LoadBundle(writer.Directory()); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected truncation error, got %v", err)
	}
}

func TestLoadBundleWithoutHeaderIsLive(t *testing.T) {
	tmp := t.TempDir()
	writer, _, err := NewWriter(tmp, "live", nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	defer writer.Close()
	if err := writer.AppendEvent(1, 0, "started", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	bundle, err := LoadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("load live bundle: %v", err)
	}
	if bundle.Header != nil || len(bundle.Events) != 1 {
		t.Fatalf("unexpected live bundle %+v", bundle)
	}
}

func TestLoadBundleRejectsBadManifest(t *testing.T) {
	tmp := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmp, manifestFileName), []byte("{"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := LoadBundle(tmp); err == nil {
		t.Fatal("expected manifest decode error")
	}
	var syntax *json.SyntaxError
	if _, err := LoadBundle(tmp); !errors.As(err, &syntax) {
		t.Fatalf("expected wrapped syntax error, got %v", err)
	}
}

func rewriteFrames(t *testing.T, path string, frame FrameRecord, keep int) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create frames: %v", err)
	}
	defer file.Close()
	encoder, err := zstd.NewWriter(file)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	prefix := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint64(prefix[0:8], frame.Tick)
	binary.LittleEndian.PutUint64(prefix[8:16], uint64(frame.SimulatedMs))
	binary.LittleEndian.PutUint64(prefix[16:24], uint64(frame.CapturedAt.UnixNano()))
	binary.LittleEndian.PutUint32(prefix[24:28], uint32(len(frame.Payload)))
	if _, err := encoder.Write(append(prefix, frame.Payload[:keep]...)); err != nil {
		t.Fatalf("write frames: %v", err)
	}
	if err := encoder.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}
