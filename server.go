package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"tunnelflight/engine/internal/auth"
	configpkg "tunnelflight/engine/internal/config"
	"tunnelflight/engine/internal/gameplay"
	httpapi "tunnelflight/engine/internal/http"
	"tunnelflight/engine/internal/input"
	"tunnelflight/engine/internal/logging"
	"tunnelflight/engine/internal/match"
	"tunnelflight/engine/internal/networking"
	"tunnelflight/engine/internal/replay"
	"tunnelflight/engine/internal/simulation"
	"tunnelflight/engine/internal/telemetry"
)

// pilotTokenLeeway tolerates clock skew between the issuing and verifying side.
const pilotTokenLeeway = 30 * time.Second

// server owns every long-lived component of one tunnel session.
type server struct {
	cfg    *configpkg.Config
	logger *logging.Logger
	seed   uint64
	tuning gameplay.Tuning

	session   *match.Session
	queue     *input.Queue
	intake    *input.Intake
	monitor   *simulation.TickMonitor
	runner    *simulation.Runner
	feed      *simulation.Feed
	hub       *networking.Hub
	tokens    *auth.PilotTokens
	telemetry *telemetry.Service
	loop      *simulation.Loop
	running   atomic.Bool

	recorder *replay.Recorder
	cleaner  *replay.Cleaner
	recorded *replaySink
}

func loadTuning(sim configpkg.SimulationConfig) (gameplay.Tuning, error) {
	base := gameplay.DefaultTuning()
	if sim.TuningPath != "" {
		raw, err := os.ReadFile(sim.TuningPath)
		if err != nil {
			return gameplay.Tuning{}, fmt.Errorf("read tuning: %w", err)
		}
		if base, err = gameplay.DecodeTuning(raw); err != nil {
			return gameplay.Tuning{}, err
		}
	}
	return gameplay.PresetTuning(base, sim.Preset)
}

// newServer assembles the simulation, its input pipeline and every sink without opening
// any listener.
func newServer(cfg *configpkg.Config, logger *logging.Logger) (*server, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	tuning, err := loadTuning(cfg.Simulation)
	if err != nil {
		return nil, err
	}
	//1.- A zero seed asks for a fresh one; it is logged and stamped into replays either way.
	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	s := &server{cfg: cfg, logger: logger, seed: seed, tuning: tuning}

	s.session = match.NewSession()
	world, err := simulation.NewWorld(tuning, rand.New(rand.NewPCG(seed, seed>>1|1)),
		simulation.WithLogger(logger.With(logging.String("component", "world"))),
		simulation.WithSession(s.session),
	)
	if err != nil {
		return nil, err
	}

	//2.- Input: WebSocket pilots and gRPC autopilots share one validator, gate and queue.
	s.queue = input.NewQueue(cfg.Input.QueueLimit)
	s.intake = input.NewIntake(
		input.NewValidator(input.DefaultValidatorConfig, logger),
		input.NewGate(input.GateConfig{MaxAge: cfg.Input.MaxAge, MinInterval: cfg.Input.MinInterval}, logger),
		s.queue,
	)
	s.monitor = simulation.NewTickMonitor(cfg.Simulation.StatsWindow)
	s.runner = simulation.NewRunner(world, s.queue, s.monitor, logger)

	//3.- Sinks: the in-process feed, the WebSocket hub and, when configured, the recorder.
	s.feed = simulation.NewFeed()
	s.runner.AddSink(s.feed)

	hubOpts := []networking.HubOption{networking.WithHubLogger(logger.With(logging.String("component", "hub")))}
	if cfg.PilotSecret != "" {
		tokens, err := auth.NewPilotTokens(cfg.PilotSecret, pilotTokenLeeway)
		if err != nil {
			return nil, fmt.Errorf("pilot tokens: %w", err)
		}
		s.tokens = tokens
		hubOpts = append(hubOpts, networking.WithAuthenticator(networking.TokenAuthenticator{Tokens: tokens}))
	}
	s.hub = networking.NewHub(networking.HubConfig{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		PingInterval:    cfg.PingInterval,
		MaxClients:      cfg.MaxClients,
		BytesPerSecond:  float64(cfg.ClientBandwidth),
	}, s.intake, hubOpts...)
	s.runner.AddSink(s.hub)

	if cfg.Replay.Enabled() {
		header := replay.Header{
			SchemaVersion: replay.HeaderSchemaVersion,
			SessionID:     s.session.Snapshot().SessionID,
			Seed:          seed,
			Preset:        cfg.Simulation.Preset,
			Tuning:        tuning,
		}
		recorder, err := replay.NewRecorder(cfg.Replay.Directory, header, nil)
		if err != nil {
			return nil, fmt.Errorf("replay recorder: %w", err)
		}
		s.recorder = recorder
		s.recorded = newReplaySink(recorder, logger.With(logging.String("component", "replay")))
		s.runner.AddSink(s.recorded)
		s.cleaner = replay.NewCleaner(cfg.Replay.Directory, replay.RetentionPolicy{
			MaxBundles: cfg.Replay.MaxBundles,
			MaxAge:     cfg.Replay.MaxAge,
		}, logger)
	}

	s.telemetry = telemetry.NewService(s.feed, s.intake,
		telemetry.WithLogger(logger.With(logging.String("component", "telemetry"))))
	s.loop = simulation.NewLoop(float64(cfg.Simulation.TickRate), s.runner.Tick)

	logger.Info("session prepared",
		logging.String("session_id", s.session.Snapshot().SessionID),
		logging.Uint64("seed", seed),
		logging.String("preset", cfg.Simulation.Preset),
		logging.Int("tick_hz", cfg.Simulation.TickRate),
		logging.Bool("replay", s.recorder != nil),
	)
	return s, nil
}

// start launches the loop and the retention sweeper.
func (s *server) start(ctx context.Context) {
	s.loop.Start(ctx)
	s.running.Store(true)
	if s.cleaner != nil {
		go s.cleaner.Run(ctx, s.cfg.Replay.SweepInterval)
	}
}

// stop halts the loop and closes every sink. Network listeners are shut down by the caller
// beforehand.
func (s *server) stop() error {
	s.running.Store(false)
	s.loop.Stop()
	var errs []error
	if err := s.hub.Close(); err != nil && !errors.Is(err, networking.ErrHubClosed) {
		errs = append(errs, fmt.Errorf("close hub: %w", err))
	}
	s.feed.Close()
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recorder: %w", err))
	}
	return errors.Join(errs...)
}

func (s *server) health() error {
	if !s.running.Load() {
		return errors.New("simulation loop is not running")
	}
	return nil
}

// stats assembles the /stats document from every component.
func (s *server) stats() any {
	queue := s.queue.Stats()
	doc := map[string]any{
		"seed":      s.seed,
		"preset":    s.cfg.Simulation.Preset,
		"snapshot":  s.runner.Latest(),
		"session":   s.session.Snapshot(),
		"ticks":     s.monitor.Snapshot(),
		"queue":     queue,
		"hub":       s.hub.Stats(),
		"telemetry": s.telemetry.Stats(),
		"feed": map[string]any{
			"subscribers": s.feed.Subscribers(),
			"dropped":     s.feed.Dropped(),
		},
		"input": map[string]any{
			"validator": s.intake.ValidatorMetrics(),
			"gate":      s.intake.GateMetrics(),
		},
	}
	if s.recorder != nil {
		doc["replay"] = map[string]any{
			"recorder":     s.recorder.Snapshot(),
			"storage":      s.cleaner.Stats(),
			"simulated_ms": s.recorded.SimulatedMs(),
		}
	}
	return doc
}

// metrics flattens the component counters into the Prometheus gauge set.
func (s *server) metrics() httpapi.Metrics {
	snapshot := s.runner.Latest()
	session := s.session.Snapshot()
	ticks := s.monitor.Snapshot()
	hub := s.hub.Stats()
	queue := s.queue.Stats()

	m := httpapi.Metrics{
		Tick:           snapshot.Tick,
		Score:          snapshot.Score,
		Alive:          snapshot.Alive,
		FlightSeconds:  snapshot.FlightTime.Seconds(),
		Runs:           session.Runs,
		BestScore:      session.BestScore,
		Clients:        hub.Connected,
		Pilots:         hub.Pilots,
		SnapshotsSent:  hub.SnapshotsSent,
		CommandsQueued: queue.Received,
		CommandsDrops:  queue.Dropped,
		AverageFPS:     ticks.AverageFPS(),
		MaxFrameMs:     float64(ticks.Max) / float64(time.Millisecond),
	}
	for _, dropped := range hub.SnapshotsDrops {
		m.SnapshotDrops += dropped
	}
	if s.recorder != nil {
		m.ReplayDumps = s.recorder.Snapshot().Dumps
		m.ReplayBytes = s.cleaner.Stats().Bytes
	}
	return m
}

// flushReplay closes the active bundle so it can be downloaded while recording continues.
func (s *server) flushReplay(context.Context) (string, error) {
	if s.recorder == nil {
		return "", errors.New("replay recording is disabled")
	}
	location, err := s.recorder.Roll()
	if errors.Is(err, replay.ErrNothingRecorded) {
		return "", fmt.Errorf("%w: %w", httpapi.ErrNothingToFlush, err)
	}
	if err != nil && location == "" {
		return "", err
	}
	if err != nil {
		s.logger.Error("replay recording stopped after flush", logging.Error(err))
	}
	s.cleaner.RunOnce()
	return location, nil
}

// handler mounts the WebSocket hub and the operational endpoints behind trace middleware.
func (s *server) handler() http.Handler {
	opts := httpapi.Options{
		Logger:      s.logger,
		Health:      s.health,
		Stats:       s.stats,
		Metrics:     s.metrics,
		AdminToken:  s.cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(s.cfg.Replay.FlushWindow, s.cfg.Replay.FlushBurst, nil),
	}
	if s.recorder != nil {
		opts.Replay = httpapi.ReplayFlusherFunc(s.flushReplay)
	}
	if s.tokens != nil {
		opts.Tokens = s.tokens
	}
	mux := http.NewServeMux()
	httpapi.NewHandlerSet(opts).Register(mux)
	mux.Handle("/ws", s.hub)
	mux.HandleFunc("/controls", controlsHandler())
	return logging.HTTPTraceMiddleware(s.logger)(mux)
}
