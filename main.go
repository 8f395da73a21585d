// Command tunnelflight runs one tunnel-flight session: a fixed-rate simulation loop fed by
// WebSocket pilots and gRPC autopilots, with snapshots fanned out to viewers, telemetry
// streams and an optional replay recorder.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	configpkg "tunnelflight/engine/internal/config"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server exited", logging.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or a listener fails, then drains everything in order:
// listeners first so no new input arrives, then the loop, then the sinks.
func run(ctx context.Context, cfg *configpkg.Config, logger *logging.Logger) error {
	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	//1.- Open the listeners before starting the loop so a bad address fails fast.
	httpListener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		_ = srv.stop()
		return fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	var grpcServer *grpc.Server
	var grpcListener net.Listener
	if cfg.GRPCAddress != "" {
		opts, err := grpcSecurityOptions(cfg, logger)
		if err != nil {
			_ = httpListener.Close()
			_ = srv.stop()
			return err
		}
		grpcListener, err = net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			_ = httpListener.Close()
			_ = srv.stop()
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddress, err)
		}
		grpcServer = grpc.NewServer(opts...)
		telemetry.Register(grpcServer, srv.telemetry)
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	srv.start(loopCtx)

	//2.- Serve HTTP and gRPC; the first failure or the signal ends the session.
	httpServer := &http.Server{Handler: srv.handler(), ReadHeaderTimeout: 5 * time.Second}
	tlsEnabled := cfg.TLSCertPath != ""
	failures := make(chan error, 2)
	go func() {
		var err error
		if tlsEnabled {
			err = httpServer.ServeTLS(httpListener, cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = httpServer.Serve(httpListener)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			failures <- fmt.Errorf("http server: %w", err)
		}
	}()
	advertised := advertisedEndpoints(cfg.Address, tlsEnabled)
	logger.Info("tunnel server listening",
		logging.String("url", advertised.Base),
		logging.String("socket", advertised.Socket),
		logging.String("controls", advertised.Controls),
	)
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				failures <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		logger.Info("telemetry listening", logging.String("address", reachableHost(cfg.GRPCAddress)))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-failures:
	}

	//3.- Drain in dependency order.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if grpcServer != nil {
		//1.- Closing the feed first ends open snapshot streams so GracefulStop can return.
		srv.feed.Close()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}
	cancelLoop()
	if err := srv.stop(); err != nil {
		errs = append(errs, err)
	}
	logger.Info("server stopped", logging.Int("runs", srv.session.Snapshot().Runs))
	return errors.Join(errs...)
}
