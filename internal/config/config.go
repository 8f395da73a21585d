package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. TUNNEL_ADDR.
const EnvPrefix = "TUNNEL"

// EnvConfigFile names the optional JSON, YAML or TOML file layered under the environment.
const EnvConfigFile = "TUNNEL_CONFIG"

const (
	// DefaultAddr is the default TCP address the HTTP and WebSocket server listens on.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr is where the telemetry stream is served. Empty disables it.
	DefaultGRPCAddr = ":43128"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 64
	// DefaultClientBandwidth caps snapshot bytes per second per connection. Zero disables it.
	DefaultClientBandwidth = 256 << 10
	// DefaultCommandQueueLimit bounds commands buffered between ticks.
	DefaultCommandQueueLimit = 256

	// DefaultTickRate is the simulation frequency in hertz.
	DefaultTickRate = 60
	// DefaultPreset selects the tuning preset applied on top of the embedded table.
	DefaultPreset = "standard"
	// DefaultStatsWindow is how many frame times the FPS monitor averages.
	DefaultStatsWindow = 120

	// DefaultInputMaxAge drops control frames that arrive later than this.
	DefaultInputMaxAge = 250 * time.Millisecond
	// DefaultInputMinInterval throttles control frames per client.
	DefaultInputMinInterval = 5 * time.Millisecond

	// DefaultReplayFlushWindow bounds how frequently replay flushes may be requested.
	DefaultReplayFlushWindow = time.Minute
	// DefaultReplayFlushBurst sets how many replay flushes may be made per window.
	DefaultReplayFlushBurst = 1
	// DefaultReplayMaxBundles caps retained replay bundles. Zero keeps everything.
	DefaultReplayMaxBundles = 20
	// DefaultReplayMaxAge removes bundles older than this. Zero disables the age check.
	DefaultReplayMaxAge = 7 * 24 * time.Hour
	// DefaultReplaySweepInterval is how often retention runs.
	DefaultReplaySweepInterval = time.Hour

	// DefaultLogLevel controls verbosity.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "tunnelflight.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 50
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 5
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// ErrInvalidConfig wraps every aggregated validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config captures all runtime tunables for the tunnel server.
type Config struct {
	Address          string
	GRPCAddress      string
	AllowedOrigins   []string
	MaxPayloadBytes  int64
	PingInterval     time.Duration
	MaxClients       int
	ClientBandwidth  int
	TLSCertPath      string
	TLSKeyPath       string
	AdminToken       string
	PilotSecret      string
	GRPCSharedSecret string
	GRPCTLSCertPath  string
	GRPCTLSKeyPath   string
	GRPCClientCAPath string
	Simulation       SimulationConfig
	Input            InputConfig
	Replay           ReplayConfig
	Logging          LoggingConfig
}

// SimulationConfig selects the tick rate and tuning of the run.
type SimulationConfig struct {
	TickRate    int
	Preset      string
	Seed        uint64
	StatsWindow int
	TuningPath  string
}

// TickInterval converts the tick rate into the loop period.
func (s SimulationConfig) TickInterval() time.Duration {
	if s.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(s.TickRate)
}

// InputConfig controls the freshness and throughput gate for control frames.
type InputConfig struct {
	MaxAge      time.Duration
	MinInterval time.Duration
	QueueLimit  int
}

// ReplayConfig controls where bundles go, how often flushes may be forced and how long
// bundles are retained.
type ReplayConfig struct {
	Directory     string
	FlushWindow   time.Duration
	FlushBurst    int
	MaxBundles    int
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// Enabled reports whether replay recording is configured.
func (r ReplayConfig) Enabled() bool {
	return strings.TrimSpace(r.Directory) != ""
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("grpc_addr", DefaultGRPCAddr)
	v.SetDefault("allowed_origins", "")
	v.SetDefault("max_payload_bytes", DefaultMaxPayloadBytes)
	v.SetDefault("ping_interval", DefaultPingInterval)
	v.SetDefault("max_clients", DefaultMaxClients)
	v.SetDefault("client_bandwidth", DefaultClientBandwidth)
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")
	v.SetDefault("admin_token", "")
	v.SetDefault("pilot_secret", "")
	v.SetDefault("grpc_shared_secret", "")
	v.SetDefault("grpc_tls_cert", "")
	v.SetDefault("grpc_tls_key", "")
	v.SetDefault("grpc_client_ca", "")

	v.SetDefault("tick_hz", DefaultTickRate)
	v.SetDefault("preset", DefaultPreset)
	v.SetDefault("seed", 0)
	v.SetDefault("stats_window", DefaultStatsWindow)
	v.SetDefault("tuning_path", "")

	v.SetDefault("input_max_age", DefaultInputMaxAge)
	v.SetDefault("input_min_interval", DefaultInputMinInterval)
	v.SetDefault("input_queue_limit", DefaultCommandQueueLimit)

	v.SetDefault("replay_dir", "")
	v.SetDefault("replay_flush_window", DefaultReplayFlushWindow)
	v.SetDefault("replay_flush_burst", DefaultReplayFlushBurst)
	v.SetDefault("replay_max_bundles", DefaultReplayMaxBundles)
	v.SetDefault("replay_max_age", DefaultReplayMaxAge)
	v.SetDefault("replay_sweep_interval", DefaultReplaySweepInterval)

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_path", DefaultLogPath)
	v.SetDefault("log_max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log_max_backups", DefaultLogMaxBackups)
	v.SetDefault("log_max_age_days", DefaultLogMaxAgeDays)
	v.SetDefault("log_compress", DefaultLogCompress)
}

// Load reads the configuration from defaults, the optional TUNNEL_CONFIG file and TUNNEL_*
// environment variables, in increasing precedence. Every invalid value is reported at once.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	//1.- Layer the optional file beneath the environment.
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	//2.- Decode each key, collecting problems instead of stopping at the first.
	r := &reader{v: v}
	cfg := &Config{
		Address:          r.str("addr"),
		GRPCAddress:      r.str("grpc_addr"),
		AllowedOrigins:   r.list("allowed_origins"),
		MaxPayloadBytes:  r.positiveInt64("max_payload_bytes"),
		PingInterval:     r.positiveDuration("ping_interval"),
		MaxClients:       r.nonNegativeInt("max_clients"),
		ClientBandwidth:  r.nonNegativeInt("client_bandwidth"),
		TLSCertPath:      r.str("tls_cert"),
		TLSKeyPath:       r.str("tls_key"),
		AdminToken:       r.str("admin_token"),
		PilotSecret:      r.str("pilot_secret"),
		GRPCSharedSecret: r.str("grpc_shared_secret"),
		GRPCTLSCertPath:  r.str("grpc_tls_cert"),
		GRPCTLSKeyPath:   r.str("grpc_tls_key"),
		GRPCClientCAPath: r.str("grpc_client_ca"),
		Simulation: SimulationConfig{
			TickRate:    r.positiveInt("tick_hz"),
			Preset:      r.str("preset"),
			Seed:        r.uint64("seed"),
			StatsWindow: r.positiveInt("stats_window"),
			TuningPath:  r.str("tuning_path"),
		},
		Input: InputConfig{
			MaxAge:      r.nonNegativeDuration("input_max_age"),
			MinInterval: r.nonNegativeDuration("input_min_interval"),
			QueueLimit:  r.nonNegativeInt("input_queue_limit"),
		},
		Replay: ReplayConfig{
			Directory:     r.str("replay_dir"),
			FlushWindow:   r.positiveDuration("replay_flush_window"),
			FlushBurst:    r.positiveInt("replay_flush_burst"),
			MaxBundles:    r.nonNegativeInt("replay_max_bundles"),
			MaxAge:        r.nonNegativeDuration("replay_max_age"),
			SweepInterval: r.positiveDuration("replay_sweep_interval"),
		},
		Logging: LoggingConfig{
			Level:      r.str("log_level"),
			Path:       r.str("log_path"),
			MaxSizeMB:  r.positiveInt("log_max_size_mb"),
			MaxBackups: r.nonNegativeInt("log_max_backups"),
			MaxAgeDays: r.nonNegativeInt("log_max_age_days"),
			Compress:   r.boolean("log_compress"),
		},
	}

	//3.- Cross-field checks.
	if cfg.Address == "" {
		r.fail("TUNNEL_ADDR must not be empty")
	}
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		r.fail("TUNNEL_TLS_CERT and TUNNEL_TLS_KEY must be provided together")
	}
	if (cfg.GRPCTLSCertPath == "") != (cfg.GRPCTLSKeyPath == "") {
		r.fail("TUNNEL_GRPC_TLS_CERT and TUNNEL_GRPC_TLS_KEY must be provided together")
	}
	if cfg.GRPCClientCAPath != "" && cfg.GRPCTLSCertPath == "" {
		r.fail("TUNNEL_GRPC_CLIENT_CA requires TUNNEL_GRPC_TLS_CERT")
	}

	if len(r.problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(r.problems, "; "))
	}
	return cfg, nil
}

// reader pulls typed values out of viper and records every conversion failure.
type reader struct {
	v        *viper.Viper
	problems []string
}

func (r *reader) fail(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) list(key string) []string {
	raw := r.v.Get(key)
	if text, ok := raw.(string); ok {
		return parseList(text)
	}
	values, err := cast.ToStringSliceE(raw)
	if err != nil {
		r.fail("%s must be a comma separated list, got %v", envName(key), raw)
		return nil
	}
	return parseList(strings.Join(values, ","))
}

func (r *reader) positiveInt(key string) int {
	value, err := cast.ToIntE(r.v.Get(key))
	if err != nil || value <= 0 {
		r.fail("%s must be a positive integer, got %q", envName(key), r.v.GetString(key))
	}
	return value
}

func (r *reader) nonNegativeInt(key string) int {
	value, err := cast.ToIntE(r.v.Get(key))
	if err != nil || value < 0 {
		r.fail("%s must be a non-negative integer, got %q", envName(key), r.v.GetString(key))
	}
	return value
}

func (r *reader) positiveInt64(key string) int64 {
	value, err := cast.ToInt64E(r.v.Get(key))
	if err != nil || value <= 0 {
		r.fail("%s must be a positive integer, got %q", envName(key), r.v.GetString(key))
	}
	return value
}

func (r *reader) uint64(key string) uint64 {
	value, err := cast.ToUint64E(r.v.Get(key))
	if err != nil {
		r.fail("%s must be an unsigned integer, got %q", envName(key), r.v.GetString(key))
	}
	return value
}

func (r *reader) positiveDuration(key string) time.Duration {
	value, err := cast.ToDurationE(r.v.Get(key))
	if err != nil || value <= 0 {
		r.fail("%s must be a positive duration, got %q", envName(key), r.v.GetString(key))
	}
	return value
}

func (r *reader) nonNegativeDuration(key string) time.Duration {
	value, err := cast.ToDurationE(r.v.Get(key))
	if err != nil || value < 0 {
		r.fail("%s must be a non-negative duration, got %q", envName(key), r.v.GetString(key))
	}
	return value
}

func (r *reader) boolean(key string) bool {
	value, err := cast.ToBoolE(r.v.Get(key))
	if err != nil {
		r.fail("%s must be a boolean value, got %q", envName(key), r.v.GetString(key))
	}
	return value
}

func parseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
