package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/simulation"
)

func startServer(t *testing.T, service *Service) *Client {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	Register(server, service)
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return NewClient(conn)
}

func waitForSubscriber(t *testing.T, feed *simulation.Feed) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for feed.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return req
}

func TestStreamSnapshotsDeliversStructFrames(t *testing.T) {
	feed := simulation.NewFeed()
	service := NewService(feed, nil, WithLogger(logging.NewTestLogger()))
	client := startServer(t, service)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamSnapshots(ctx, request(t, map[string]any{"max_hz": 60}))
	if err != nil {
		t.Fatalf("StreamSnapshots: %v", err)
	}
	waitForSubscriber(t, feed)

	feed.Publish(simulation.Snapshot{Tick: 7, Phase: "flying", Score: 2, FlightTime: 1500 * time.Millisecond})
	frame, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if frame.GetFields()["encoding"].GetStringValue() != EncodingStruct {
		t.Fatalf("unexpected encoding in %v", frame)
	}
	snapshot, err := DecodeSnapshot(frame, nil)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if snapshot.Tick != 7 || snapshot.Score != 2 || snapshot.Phase != "flying" || snapshot.FlightTime != 1500*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	//1.- Closing the source ends the stream cleanly.
	feed.Close()
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after feed closed, got %v", err)
	}
	stats := service.Stats()
	if stats.FramesSent != 1 || stats.BytesSent == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

type sourceStub struct {
	ch chan simulation.Snapshot
}

func (s sourceStub) Subscribe(int) (<-chan simulation.Snapshot, func()) {
	return s.ch, func() {}
}

type snapshotStreamStub struct {
	ctx    context.Context
	frames []*structpb.Struct
}

func (s *snapshotStreamStub) Send(frame *structpb.Struct) error {
	s.frames = append(s.frames, frame)
	return nil
}

func (s *snapshotStreamStub) SetHeader(metadata.MD) error  { return nil }
func (s *snapshotStreamStub) SendHeader(metadata.MD) error { return nil }
func (s *snapshotStreamStub) SetTrailer(metadata.MD)       {}
func (s *snapshotStreamStub) Context() context.Context     { return s.ctx }
func (s *snapshotStreamStub) SendMsg(m any) error          { return s.Send(m.(*structpb.Struct)) }
func (s *snapshotStreamStub) RecvMsg(any) error            { return nil }

var _ grpc.ServerStreamingServer[structpb.Struct] = (*snapshotStreamStub)(nil)

func TestStreamSnapshotsCompressesAndKeepsEvents(t *testing.T) {
	//1.- Two buffered snapshots and a closed source: the newest wins but both events survive.
	source := sourceStub{ch: make(chan simulation.Snapshot, 2)}
	source.ch <- simulation.Snapshot{Tick: 1, Events: []simulation.Event{{Kind: simulation.EventStarted, Tick: 1}}}
	source.ch <- simulation.Snapshot{Tick: 2, Events: []simulation.Event{{Kind: simulation.EventCollected, Tick: 2, Score: 1}}}
	close(source.ch)

	ticks := make(chan time.Time, 2)
	ticks <- time.Now()
	ticks <- time.Now()
	service := NewService(source, nil, WithTickerFactory(func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}))

	stream := &snapshotStreamStub{ctx: context.Background()}
	if err := service.StreamSnapshots(request(t, map[string]any{"encoding": "gzip"}), stream); err != nil {
		t.Fatalf("StreamSnapshots: %v", err)
	}
	if len(stream.frames) != 1 {
		t.Fatalf("expected one frame, got %d", len(stream.frames))
	}
	frame := stream.frames[0]
	if frame.GetFields()["encoding"].GetStringValue() != EncodingGzip {
		t.Fatalf("expected gzip frame, got %v", frame)
	}
	snapshot, err := DecodeSnapshot(frame, nil)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if snapshot.Tick != 2 || len(snapshot.Events) != 2 || !snapshot.HasEvent(simulation.EventStarted) || !snapshot.HasEvent(simulation.EventCollected) {
		t.Fatalf("unexpected merged snapshot %+v", snapshot)
	}
}

func TestStreamSnapshotsHonoursCancellation(t *testing.T) {
	service := NewService(sourceStub{ch: make(chan simulation.Snapshot)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := service.StreamSnapshots(nil, &snapshotStreamStub{ctx: ctx})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected Canceled, got %v", err)
	}
}

func TestStreamSnapshotsRejectsUnknownEncoding(t *testing.T) {
	client := startServer(t, NewService(simulation.NewFeed(), nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamSnapshots(ctx, request(t, map[string]any{"encoding": "lz4"}))
	if err != nil {
		t.Fatalf("StreamSnapshots: %v", err)
	}
	if _, err := stream.Recv(); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestSendCommandsAppliesThroughIntake(t *testing.T) {
	queue := input.NewQueue(0)
	intake := input.NewIntake(input.NewValidator(input.DefaultValidatorConfig, nil), input.NewGate(input.GateConfig{}, nil), queue)
	service := NewService(nil, intake)
	client := startServer(t, service)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, ClientIDMetadataKey, "autopilot")
	stream, err := client.SendCommands(ctx)
	if err != nil {
		t.Fatalf("SendCommands: %v", err)
	}
	frames := []map[string]any{
		{"type": "control", "seq": 1, "action": "start"},
		{"type": "control", "seq": 2, "action": "set", "engine": "left", "on": true},
		{"type": "control", "seq": 3, "action": "warp"},
	}
	for _, fields := range frames {
		if err := stream.Send(request(t, fields)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	ack, err := stream.CloseAndRecv()
	if err != nil {
		t.Fatalf("CloseAndRecv: %v", err)
	}
	fields := ack.GetFields()
	if fields["accepted"].GetNumberValue() != 2 || fields["rejected"].GetNumberValue() != 1 {
		t.Fatalf("unexpected ack %v", ack)
	}
	if fields["client_id"].GetStringValue() != "grpc:autopilot" {
		t.Fatalf("unexpected client id %v", fields["client_id"])
	}
	if fields["reasons"].GetStructValue().GetFields()[string(input.ValidationReasonUnknownAction)].GetNumberValue() != 1 {
		t.Fatalf("expected unknown_action reason in %v", ack)
	}
	drained := queue.Drain()
	if len(drained) != 2 || drained[0].Kind != input.CommandStart || drained[1].Kind != input.CommandSet {
		t.Fatalf("unexpected queued commands %v", drained)
	}
	if stats := service.Stats(); stats.CommandsApplied != 2 || stats.CommandsRejected != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRPCsWithoutBackendsFailPrecondition(t *testing.T) {
	client := startServer(t, NewService(nil, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamSnapshots(ctx, nil)
	if err != nil {
		t.Fatalf("StreamSnapshots: %v", err)
	}
	if _, err := stream.Recv(); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}

	commands, err := client.SendCommands(ctx)
	if err != nil {
		t.Fatalf("SendCommands: %v", err)
	}
	if _, err := commands.CloseAndRecv(); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
}

func TestCompressorsRoundTrip(t *testing.T) {
	payload := []byte(`{"tick":1,"phase":"flying","score":3}`)
	for name, compressor := range builtinCompressors() {
		t.Run(name, func(t *testing.T) {
			compressed, err := compressor.Compress(payload)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			restored, err := compressor.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if string(restored) != string(payload) {
				t.Fatalf("round trip mismatch %q", restored)
			}
			if _, err := compressor.Decompress(nil); err == nil {
				t.Fatal("expected error for empty payload")
			}
		})
	}
}

func TestStreamSnapshotsSnappyFrames(t *testing.T) {
	source := sourceStub{ch: make(chan simulation.Snapshot, 1)}
	source.ch <- simulation.Snapshot{Tick: 7, Phase: "flying", Score: 4}
	close(source.ch)

	ticks := make(chan time.Time, 2)
	ticks <- time.Now()
	ticks <- time.Now()
	service := NewService(source, nil, WithTickerFactory(func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}))

	stream := &snapshotStreamStub{ctx: context.Background()}
	if err := service.StreamSnapshots(request(t, map[string]any{"encoding": "Snappy"}), stream); err != nil {
		t.Fatalf("StreamSnapshots: %v", err)
	}
	if len(stream.frames) != 1 || stream.frames[0].GetFields()["encoding"].GetStringValue() != EncodingSnappy {
		t.Fatalf("expected one snappy frame, got %v", stream.frames)
	}
	snapshot, err := DecodeSnapshot(stream.frames[0], nil)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if snapshot.Tick != 7 || snapshot.Score != 4 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	//1.- A codec that does not match the frame is refused.
	if _, err := DecodeSnapshot(stream.frames[0], NewGZIPCompressor()); err == nil {
		t.Fatal("expected mismatched codec to fail")
	}
}
