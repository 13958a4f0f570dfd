// Package config provides application configuration loaded from environment
// variables with defaults and validation, plus an optional YAML file overlay
// for deployments that prefer a checked-in config. It centralizes settings
// such as data paths, worker cadence, rate-limit pools, blacklist duration,
// and observability.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `yaml:"enabled"`      // OTEL_ENABLED
	Endpoint    string  `yaml:"endpoint"`     // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    `yaml:"insecure"`     // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  `yaml:"service_name"` // OTEL_SERVICE_NAME
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"` // OTEL_TRACES_SAMPLER_ARG
}

// PoolConfig overrides one rate-limit pool's window.
type PoolConfig struct {
	Limit  int           `yaml:"limit"   validate:"omitempty,gt=0"`
	MaxAge time.Duration `yaml:"max_age" validate:"omitempty,gt=0"`
}

// OpsConfig defines the local health/metrics listener.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // e.g. "127.0.0.1:9090"
	GinMode string `yaml:"gin_mode"`
}

// Config holds all configuration values for the bot.
type Config struct {
	// Logging
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error fatal panic"`
	LogPretty bool   `yaml:"log_pretty"`

	// Data layout
	DataDir  string `yaml:"data_dir"  validate:"required"` // root for db, flag, locks, signals
	DBPath   string `yaml:"db_path"   validate:"required"` // SQLite path
	FlagPath string `yaml:"flag_path" validate:"required"` // shared ratelimit flag file

	// Reddit behavior
	Username        string        `yaml:"username" validate:"required"` // bot account, used in lock names
	Subreddits      []string      `yaml:"subreddits"`                   // watched subreddits
	PollInterval    time.Duration `yaml:"poll_interval"    validate:"gt=0"`
	StreamRPS       float64       `yaml:"stream_rps"       validate:"gt=0"` // local StreamNext pacing
	MaxRepliesPerThread int       `yaml:"max_replies_per_thread" validate:"gte=1"`

	// Blacklist
	TempBanDuration time.Duration `yaml:"temp_ban_duration" validate:"gt=0"`

	// Rate-limit pool overrides (empty = built-in defaults)
	Pools map[string]PoolConfig `yaml:"pools"`

	// Ops / Observability
	Ops  OpsConfig  `yaml:"ops"`
	OTEL OTELConfig `yaml:"otel"`
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment, overlays an optional YAML
// file (BOT_CONFIG_FILE), applies defaults, normalizes, and validates.
// Precedence: env > yaml > defaults, matching "explicit wins".
func Load() (Config, error) {
	cfg := defaults()

	if path := getenv("BOT_CONFIG_FILE", ""); path != "" {
		if err := overlayYAML(&cfg, path); err != nil {
			return cfg, err
		}
	}
	overlayEnv(&cfg)

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.Ops.GinMode {
	case "debug", "release", "test":
	default:
		cfg.Ops.GinMode = "release"
	}
	for i, s := range cfg.Subreddits {
		cfg.Subreddits[i] = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "r/")
	}

	// --- validation ---
	if err := validate.Struct(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New()

func defaults() Config {
	return Config{
		LogLevel:  "info",
		LogPretty: false,

		DataDir:  "data",
		DBPath:   "data/bot.db",
		FlagPath: "data/ratelimit.flag",

		Username:            "ig-highlights-bot",
		PollInterval:        time.Second,
		StreamRPS:           1.0,
		MaxRepliesPerThread: 3,

		TempBanDuration: 72 * time.Hour,

		Ops: OpsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			GinMode: "release",
		},
		OTEL: OTELConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "ig-highlights-bot",
			SampleRatio: 1.0,
		},
	}
}

// yamlDuration accepts "72h"-style strings (or raw nanoseconds) in the
// config file; time.Duration alone only unmarshals the latter.
type yamlDuration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *yamlDuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = yamlDuration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = yamlDuration(n)
	return nil
}

// fileConfig mirrors Config for the YAML overlay. Pointer fields distinguish
// "absent" from zero so an overlay never clobbers a default it didn't name.
type fileConfig struct {
	LogLevel  *string `yaml:"log_level"`
	LogPretty *bool   `yaml:"log_pretty"`

	DataDir  *string `yaml:"data_dir"`
	DBPath   *string `yaml:"db_path"`
	FlagPath *string `yaml:"flag_path"`

	Username            *string       `yaml:"username"`
	Subreddits          []string      `yaml:"subreddits"`
	PollInterval        *yamlDuration `yaml:"poll_interval"`
	StreamRPS           *float64      `yaml:"stream_rps"`
	MaxRepliesPerThread *int          `yaml:"max_replies_per_thread"`

	TempBanDuration *yamlDuration `yaml:"temp_ban_duration"`

	Pools map[string]struct {
		Limit  *int          `yaml:"limit"`
		MaxAge *yamlDuration `yaml:"max_age"`
	} `yaml:"pools"`

	Ops *struct {
		Enabled *bool   `yaml:"enabled"`
		Addr    *string `yaml:"addr"`
		GinMode *string `yaml:"gin_mode"`
	} `yaml:"ops"`

	OTEL *struct {
		Enabled     *bool    `yaml:"enabled"`
		Endpoint    *string  `yaml:"endpoint"`
		Insecure    *bool    `yaml:"insecure"`
		ServiceName *string  `yaml:"service_name"`
		SampleRatio *float64 `yaml:"sample_ratio"`
	} `yaml:"otel"`
}

// overlayYAML merges a YAML file over cfg in place.
func overlayYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}

	setString(&cfg.LogLevel, fc.LogLevel)
	setBool(&cfg.LogPretty, fc.LogPretty)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.FlagPath, fc.FlagPath)
	setString(&cfg.Username, fc.Username)
	if fc.Subreddits != nil {
		cfg.Subreddits = fc.Subreddits
	}
	setDur(&cfg.PollInterval, fc.PollInterval)
	setFloat(&cfg.StreamRPS, fc.StreamRPS)
	setInt(&cfg.MaxRepliesPerThread, fc.MaxRepliesPerThread)
	setDur(&cfg.TempBanDuration, fc.TempBanDuration)

	if fc.Pools != nil {
		if cfg.Pools == nil {
			cfg.Pools = make(map[string]PoolConfig, len(fc.Pools))
		}
		for name, p := range fc.Pools {
			pc := cfg.Pools[name]
			setInt(&pc.Limit, p.Limit)
			setDur(&pc.MaxAge, p.MaxAge)
			cfg.Pools[name] = pc
		}
	}
	if fc.Ops != nil {
		setBool(&cfg.Ops.Enabled, fc.Ops.Enabled)
		setString(&cfg.Ops.Addr, fc.Ops.Addr)
		setString(&cfg.Ops.GinMode, fc.Ops.GinMode)
	}
	if fc.OTEL != nil {
		setBool(&cfg.OTEL.Enabled, fc.OTEL.Enabled)
		setString(&cfg.OTEL.Endpoint, fc.OTEL.Endpoint)
		setBool(&cfg.OTEL.Insecure, fc.OTEL.Insecure)
		setString(&cfg.OTEL.ServiceName, fc.OTEL.ServiceName)
		setFloat(&cfg.OTEL.SampleRatio, fc.OTEL.SampleRatio)
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDur(dst *time.Duration, src *yamlDuration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

// overlayEnv applies environment overrides on top of cfg.
func overlayEnv(cfg *Config) {
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getbool("LOG_PRETTY", cfg.LogPretty)

	cfg.DataDir = getenv("DATA_DIR", cfg.DataDir)
	cfg.DBPath = getenv("DB_PATH", cfg.DBPath)
	cfg.FlagPath = getenv("FLAG_PATH", cfg.FlagPath)

	cfg.Username = getenv("BOT_USERNAME", cfg.Username)
	if v := getenv("SUBREDDITS", ""); v != "" {
		cfg.Subreddits = splitCSV(v)
	}
	cfg.PollInterval = getdur("POLL_INTERVAL", cfg.PollInterval)
	cfg.StreamRPS = getfloat("STREAM_RPS", cfg.StreamRPS)
	cfg.MaxRepliesPerThread = getint("MAX_REPLIES_PER_THREAD", cfg.MaxRepliesPerThread)

	cfg.TempBanDuration = getdur("BLACKLIST_TEMP_BAN", cfg.TempBanDuration)

	cfg.Ops.Enabled = getbool("OPS_ENABLED", cfg.Ops.Enabled)
	cfg.Ops.Addr = getenv("OPS_ADDR", cfg.Ops.Addr)
	cfg.Ops.GinMode = strings.ToLower(getenv("GIN_MODE", cfg.Ops.GinMode))

	cfg.OTEL.Enabled = getbool("OTEL_ENABLED", cfg.OTEL.Enabled)
	cfg.OTEL.Endpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTEL.Endpoint)
	cfg.OTEL.Insecure = getbool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTEL.Insecure)
	cfg.OTEL.ServiceName = getenv("OTEL_SERVICE_NAME", cfg.OTEL.ServiceName)
	cfg.OTEL.SampleRatio = getfloat("OTEL_TRACES_SAMPLER_ARG", cfg.OTEL.SampleRatio)
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
