// Package telemetry serves the simulation over gRPC: a throttled snapshot stream for
// dashboards and a client-streaming command intake for scripted pilots. Messages are
// google.protobuf.Struct values so no generated code is needed.
package telemetry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/simulation"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "tunnelflight.telemetry.v1.Telemetry"

	// EncodingStruct embeds the snapshot as a nested Struct.
	EncodingStruct = "struct"
	// EncodingGzip carries base64 gzip-compressed snapshot JSON.
	EncodingGzip = "gzip"
	// EncodingSnappy carries base64 snappy-compressed snapshot JSON.
	EncodingSnappy = "snappy"

	// DefaultStreamHz is the snapshot cadence when the request names none.
	DefaultStreamHz = 20
	// MaxStreamHz caps the requested cadence.
	MaxStreamHz = 60

	// ClientIDMetadataKey lets command streams pick a stable client id.
	ClientIDMetadataKey = "x-client-id"

	subscriptionBuffer = 4
)

// SnapshotSource hands out snapshot subscriptions. simulation.Feed satisfies it.
type SnapshotSource interface {
	Subscribe(buffer int) (<-chan simulation.Snapshot, func())
}

// CommandIntake judges raw control payloads. input.Intake satisfies it.
type CommandIntake interface {
	Submit(clientID string, raw []byte) input.Outcome
	Forget(clientID string)
}

// TelemetryServer is the server API registered with ServiceDesc.
type TelemetryServer interface {
	StreamSnapshots(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	SendCommands(grpc.ClientStreamingServer[structpb.Struct, structpb.Struct]) error
}

// Stats summarises stream activity.
type Stats struct {
	ActiveStreams    int64  `json:"active_streams"`
	FramesSent       uint64 `json:"frames_sent"`
	BytesSent        uint64 `json:"bytes_sent"`
	CommandsApplied  uint64 `json:"commands_applied"`
	CommandsRejected uint64 `json:"commands_rejected"`
}

// tickerFactory constructs cancellable tick channels for throttled streaming.
type tickerFactory func(time.Duration) (<-chan time.Time, func())

func defaultTickerFactory(interval time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(interval)
	return ticker.C, ticker.Stop
}

// Option customises the service.
type Option func(*Service)

// WithCompressor registers compressor under its Name, replacing any built-in encoding of
// the same name.
func WithCompressor(compressor Compressor) Option {
	return func(s *Service) {
		if compressor != nil {
			s.compressors[compressor.Name()] = compressor
		}
	}
}

// WithTickerFactory overrides the throttling ticker (used in tests).
func WithTickerFactory(factory tickerFactory) Option {
	return func(s *Service) {
		if factory != nil {
			s.newTicker = factory
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service implements TelemetryServer.
type Service struct {
	source      SnapshotSource
	intake      CommandIntake
	compressors map[string]Compressor
	newTicker   tickerFactory
	logger      *logging.Logger

	active   atomic.Int64
	frames   atomic.Uint64
	bytes    atomic.Uint64
	applied  atomic.Uint64
	rejected atomic.Uint64
	streams  atomic.Uint64
}

// NewService wires the service to its snapshot source and command intake. Either may be
// nil, which makes the matching RPC fail with FailedPrecondition.
func NewService(source SnapshotSource, intake CommandIntake, opts ...Option) *Service {
	service := &Service{
		source:      source,
		intake:      intake,
		compressors: builtinCompressors(),
		newTicker:   defaultTickerFactory,
		logger:      logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	return Stats{
		ActiveStreams:    s.active.Load(),
		FramesSent:       s.frames.Load(),
		BytesSent:        s.bytes.Load(),
		CommandsApplied:  s.applied.Load(),
		CommandsRejected: s.rejected.Load(),
	}
}

func (s *Service) streamOptions(req *structpb.Struct) (int, string, error) {
	hz := DefaultStreamHz
	encoding := EncodingStruct
	if req == nil {
		return hz, encoding, nil
	}
	fields := req.GetFields()
	if value, ok := fields["max_hz"]; ok {
		requested := int(value.GetNumberValue())
		hz = min(max(requested, 1), MaxStreamHz)
	}
	if value, ok := fields["encoding"]; ok {
		name := strings.ToLower(strings.TrimSpace(value.GetStringValue()))
		if _, known := s.compressors[name]; known {
			encoding = name
		} else if name != "" && name != EncodingStruct {
			return 0, "", fmt.Errorf("unsupported encoding %q", name)
		}
	}
	return hz, encoding, nil
}

// StreamSnapshots sends the newest snapshot at the requested cadence. Snapshots that are
// superseded between sends donate their events to the next frame so none are lost.
func (s *Service) StreamSnapshots(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s == nil || s.source == nil {
		return status.Error(codes.FailedPrecondition, "snapshot stream unavailable")
	}
	hz, encoding, err := s.streamOptions(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ctx := stream.Context()

	//1.- Subscribe before the first tick so nothing published afterwards is missed.
	snapshots, cancel := s.source.Subscribe(subscriptionBuffer)
	defer cancel()
	s.active.Add(1)
	defer s.active.Add(-1)

	tickCh, stop := s.newTicker(time.Second / time.Duration(hz))
	defer stop()
	s.logger.Debug("snapshot stream opened", logging.Int("hz", hz), logging.String("encoding", encoding))

	var (
		pending *simulation.Snapshot
		closed  bool
	)
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case snapshot, ok := <-snapshots:
			//2.- Fold everything already buffered so the next frame carries the newest state.
		fold:
			for ok {
				pending = merge(pending, snapshot)
				select {
				case snapshot, ok = <-snapshots:
				default:
					break fold
				}
			}
			if !ok {
				closed = true
				snapshots = nil
				if pending == nil {
					return nil
				}
			}
		case <-tickCh:
			if pending == nil {
				if closed {
					return nil
				}
				continue
			}
			frame, err := s.encodeFrame(*pending, encoding)
			pending = nil
			if err != nil {
				return status.Errorf(codes.Internal, "encode snapshot: %v", err)
			}
			if err := stream.Send(frame); err != nil {
				return err
			}
			s.frames.Add(1)
			s.bytes.Add(uint64(proto.Size(frame)))
			if closed {
				return nil
			}
		}
	}
}

// merge replaces pending with next, carrying forward events that were never sent.
func merge(pending *simulation.Snapshot, next simulation.Snapshot) *simulation.Snapshot {
	if pending != nil && len(pending.Events) > 0 {
		next.Events = append(append([]simulation.Event(nil), pending.Events...), next.Events...)
	}
	return &next
}

func (s *Service) encodeFrame(snapshot simulation.Snapshot, encoding string) (*structpb.Struct, error) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	frame := &structpb.Struct{Fields: map[string]*structpb.Value{
		"tick":     structpb.NewNumberValue(float64(snapshot.Tick)),
		"encoding": structpb.NewStringValue(encoding),
	}}
	if encoding == EncodingStruct {
		body := &structpb.Struct{}
		if err := protojson.Unmarshal(raw, body); err != nil {
			return nil, err
		}
		frame.Fields["snapshot"] = structpb.NewStructValue(body)
		return frame, nil
	}
	compressed, err := s.compressors[encoding].Compress(raw)
	if err != nil {
		return nil, err
	}
	frame.Fields["payload"] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(compressed))
	return frame, nil
}

// DecodeSnapshot restores the snapshot carried by a stream frame. A nil compressor selects
// the built-in codec named by the frame.
func DecodeSnapshot(frame *structpb.Struct, compressor Compressor) (simulation.Snapshot, error) {
	var snapshot simulation.Snapshot
	if frame == nil {
		return snapshot, errors.New("nil frame")
	}
	fields := frame.GetFields()
	encoding := fields["encoding"].GetStringValue()
	if compressor == nil && encoding != EncodingStruct {
		if builtin, ok := builtinCompressors()[encoding]; ok {
			compressor = builtin
		}
	}
	var raw []byte
	switch {
	case encoding == EncodingStruct:
		body := fields["snapshot"].GetStructValue()
		if body == nil {
			return snapshot, errors.New("frame has no snapshot")
		}
		encoded, err := protojson.Marshal(body)
		if err != nil {
			return snapshot, err
		}
		raw = encoded
	case compressor != nil && encoding == compressor.Name():
		compressed, err := base64.StdEncoding.DecodeString(fields["payload"].GetStringValue())
		if err != nil {
			return snapshot, fmt.Errorf("decode payload: %w", err)
		}
		if raw, err = compressor.Decompress(compressed); err != nil {
			return snapshot, err
		}
	default:
		return snapshot, fmt.Errorf("unsupported encoding %q", encoding)
	}
	err := json.Unmarshal(raw, &snapshot)
	return snapshot, err
}

func (s *Service) commandClientID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, value := range md.Get(ClientIDMetadataKey) {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return "grpc:" + trimmed
			}
		}
	}
	return fmt.Sprintf("grpc-%d", s.streams.Add(1))
}

// SendCommands feeds each received Struct through the command intake as a control frame
// and acknowledges the totals when the client closes the stream.
func (s *Service) SendCommands(stream grpc.ClientStreamingServer[structpb.Struct, structpb.Struct]) error {
	if s == nil || s.intake == nil {
		return status.Error(codes.FailedPrecondition, "command intake unavailable")
	}
	clientID := s.commandClientID(stream.Context())
	defer s.intake.Forget(clientID)

	var accepted, rejected int
	reasons := make(map[string]any)
	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			//1.- Return the aggregated acknowledgement once the client closes the stream.
			ack, err := structpb.NewStruct(map[string]any{
				"client_id": clientID,
				"accepted":  accepted,
				"rejected":  rejected,
				"reasons":   reasons,
			})
			if err != nil {
				return status.Errorf(codes.Internal, "encode ack: %v", err)
			}
			return stream.SendAndClose(ack)
		}
		if err != nil {
			return err
		}
		raw, err := protojson.Marshal(frame)
		if err != nil {
			rejected++
			s.rejected.Add(1)
			reasons[string(input.ValidationReasonMalformed)] = countOf(reasons, string(input.ValidationReasonMalformed)) + 1
			continue
		}
		outcome := s.intake.Submit(clientID, raw)
		if outcome.Applied {
			accepted++
			s.applied.Add(1)
			continue
		}
		rejected++
		s.rejected.Add(1)
		reasons[outcome.Reason] = countOf(reasons, outcome.Reason) + 1
		if outcome.Disconnect {
			return status.Errorf(codes.PermissionDenied, "too many invalid commands: %s", outcome.Reason)
		}
	}
}

func countOf(counts map[string]any, key string) int {
	value, _ := counts[key].(int)
	return value
}

var _ TelemetryServer = (*Service)(nil)
