// Command autopilot flies a running tunnel server over its gRPC telemetry service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"tunnelflight/engine/internal/bots"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/telemetry"
)

func main() {
	addr := flag.String("addr", "localhost:43128", "telemetry gRPC address")
	name := flag.String("name", "autopilot", "client id reported to the input gate")
	secret := flag.String("secret", "", "shared secret sent as a bearer token")
	hz := flag.Int("hz", telemetry.DefaultStreamHz, "snapshot rate to request")
	encoding := flag.String("encoding", "", "stream encoding (struct, gzip or snappy)")
	retry := flag.Bool("retry", true, "reset and fly again after a death")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *secret != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+*secret)
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	logger := logging.NewWriterLogger(os.Stderr, logging.InfoLevel)
	pilot := bots.NewAutopilot(bots.AutopilotConfig{Retry: *retry}, nil)
	stats, err := bots.Fly(ctx, telemetry.NewClient(conn), pilot, bots.FlyOptions{
		Name:     *name,
		MaxHz:    *hz,
		Encoding: *encoding,
		Logger:   logger,
	})
	if err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "fly:", err)
		os.Exit(2)
	}

	//1.- Print the flight summary as JSON for scripting.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(stats)
}
