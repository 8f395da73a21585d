package bots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/telemetry"
)

// FlightStats summarises one Fly session.
type FlightStats struct {
	Snapshots int            `json:"snapshots"`
	Sent      int            `json:"sent"`
	Accepted  int            `json:"accepted"`
	Rejected  int            `json:"rejected"`
	Reasons   map[string]int `json:"reasons,omitempty"`
}

// FlyOptions configures a Fly session.
type FlyOptions struct {
	// Name identifies the autopilot to the server's input gate.
	Name string
	// MaxHz caps the snapshot stream rate.
	MaxHz int
	// Encoding selects the stream encoding; empty means structured frames.
	Encoding string
	Logger   *logging.Logger
}

// Fly streams snapshots from the telemetry service and answers each with the autopilot's
// decision until the stream ends or ctx is cancelled. A server-side end of stream returns
// the command acknowledgement; cancellation returns ctx.Err().
func Fly(ctx context.Context, client *telemetry.Client, pilot *Autopilot, opts FlyOptions) (FlightStats, error) {
	var stats FlightStats
	if client == nil || pilot == nil {
		return stats, errors.New("client and autopilot are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	if opts.Name != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, telemetry.ClientIDMetadataKey, opts.Name)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	//1.- Open both streams before the first decision so no frame is decided blind.
	fields := map[string]any{}
	if opts.MaxHz > 0 {
		fields["max_hz"] = opts.MaxHz
	}
	if opts.Encoding != "" {
		fields["encoding"] = opts.Encoding
	}
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return stats, err
	}
	snapshots, err := client.StreamSnapshots(ctx, request)
	if err != nil {
		return stats, fmt.Errorf("open snapshot stream: %w", err)
	}
	commands, err := client.SendCommands(ctx)
	if err != nil {
		return stats, fmt.Errorf("open command stream: %w", err)
	}

	//2.- Decide and send until the server closes the snapshot stream.
	for {
		frame, err := snapshots.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			return stats, fmt.Errorf("receive snapshot: %w", err)
		}
		snapshot, err := telemetry.DecodeSnapshot(frame, nil)
		if err != nil {
			return stats, err
		}
		stats.Snapshots++
		control, ok := pilot.Decide(snapshot)
		if !ok {
			continue
		}
		message, err := controlMessage(control)
		if err != nil {
			return stats, err
		}
		if err := commands.Send(message); err != nil {
			return stats, fmt.Errorf("send command: %w", err)
		}
		stats.Sent++
	}

	//3.- The acknowledgement reports how the shared intake judged every frame.
	ack, err := commands.CloseAndRecv()
	if err != nil {
		return stats, fmt.Errorf("close command stream: %w", err)
	}
	ackFields := ack.GetFields()
	stats.Accepted = int(ackFields["accepted"].GetNumberValue())
	stats.Rejected = int(ackFields["rejected"].GetNumberValue())
	for reason, count := range ackFields["reasons"].GetStructValue().GetFields() {
		if stats.Reasons == nil {
			stats.Reasons = make(map[string]int)
		}
		stats.Reasons[reason] = int(count.GetNumberValue())
	}
	logger.Info("autopilot flight finished",
		logging.String("name", opts.Name),
		logging.Int("snapshots", stats.Snapshots),
		logging.Int("sent", stats.Sent),
		logging.Int("accepted", stats.Accepted),
	)
	return stats, nil
}

func controlMessage(control input.ControlFrame) (*structpb.Struct, error) {
	raw, err := json.Marshal(control)
	if err != nil {
		return nil, err
	}
	message := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, message); err != nil {
		return nil, fmt.Errorf("encode control frame: %w", err)
	}
	return message, nil
}
