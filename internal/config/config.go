// Package config reads relay settings from the environment, with an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/epdrelay/internal/archive"
	"github.com/joshp123/epdrelay/internal/events"
	"github.com/joshp123/epdrelay/internal/layout"
	"github.com/joshp123/epdrelay/internal/render"
)

const (
	DefaultHTTPAddr            = "0.0.0.0:3000"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultMaxTextLength       = 1000
	DefaultPollTimeout         = 10 * time.Minute
	DefaultDiscoveryTimeout    = 20 * time.Second
	DefaultSweepInterval       = time.Minute
	DefaultDiscoveryPort       = 4210
	DefaultBroadcastAddr       = "255.255.255.255"
	DefaultBroadcastInterval   = 10 * time.Second
	DefaultDisplayWidth        = 960
	DefaultDisplayHeight       = 540
	DefaultMainAreaHeight      = 480
	DefaultUploadDir           = "./uploads"
	DefaultUploadMaxBytes      = 10 << 20
	DefaultUploadMaxAge        = time.Hour
	DefaultUploadSweepInterval = time.Hour
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
	DefaultMQTTTopicPrefix     = "epdrelay"
)

var DefaultAllowedImageTypes = []string{render.MIMEJPEG, render.MIMEPNG}

// renderableImageTypes are the uploads the render pipeline can decode.
var renderableImageTypes = map[string]bool{render.MIMEJPEG: true, render.MIMEPNG: true}

type Config struct {
	HTTPAddr string
	// GRPCAddr serves gRPC health and reflection; empty disables it.
	GRPCAddr string

	MaxTextLength    int
	PollTimeout      time.Duration
	DiscoveryTimeout time.Duration
	SweepInterval    time.Duration
	MinPollInterval  time.Duration
	MaxQueueLength   int

	DiscoveryEnabled  bool
	DiscoveryPort     int
	BroadcastAddr     string
	BroadcastInterval time.Duration

	DisplayWidth   int
	DisplayHeight  int
	MainAreaHeight int
	TextBudgets    layout.Budgets

	AllowedImageTypes   []string
	UploadDir           string
	UploadMaxBytes      int64
	UploadMaxAge        time.Duration
	UploadSweepInterval time.Duration
	MaxInputPixels      int64

	PublicDir     string
	DashboardsDir string

	LogLevel  string
	LogFormat string

	MQTT    events.Config
	Archive archive.Config
}

// Lookup reads one variable; os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load reads the process environment after loading any .env file.
func Load() (*Config, error) {
	if err := Ensure(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(os.LookupEnv)
}

// LoadFrom parses variables from lookup, applies defaults, and validates.
func LoadFrom(lookup Lookup) (*Config, error) {
	r := reader{lookup: lookup}
	cfg := &Config{
		HTTPAddr:          r.str("EPD_HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddr:          r.str("EPD_GRPC_ADDR", DefaultGRPCAddr),
		MaxTextLength:     r.integer("EPD_MAX_TEXT_LENGTH", DefaultMaxTextLength),
		PollTimeout:       r.duration("EPD_POLL_TIMEOUT", DefaultPollTimeout),
		DiscoveryTimeout:  r.duration("EPD_DISCOVERY_TIMEOUT", DefaultDiscoveryTimeout),
		SweepInterval:     r.duration("EPD_SWEEP_INTERVAL", DefaultSweepInterval),
		MinPollInterval:   r.duration("EPD_MIN_POLL_INTERVAL", 0),
		MaxQueueLength:    r.integer("EPD_MAX_QUEUE_LENGTH", 0),
		DiscoveryEnabled:  r.boolean("EPD_DISCOVERY_ENABLED", true),
		DiscoveryPort:     r.integer("EPD_DISCOVERY_PORT", DefaultDiscoveryPort),
		BroadcastAddr:     r.str("EPD_BROADCAST_ADDR", DefaultBroadcastAddr),
		BroadcastInterval: r.duration("EPD_BROADCAST_INTERVAL", DefaultBroadcastInterval),
		DisplayWidth:      r.integer("EPD_DISPLAY_WIDTH", DefaultDisplayWidth),
		DisplayHeight:     r.integer("EPD_DISPLAY_HEIGHT", DefaultDisplayHeight),
		MainAreaHeight:    r.integer("EPD_MAIN_AREA_HEIGHT", DefaultMainAreaHeight),
		TextBudgets: layout.Budgets{
			Small:  r.integer("EPD_TEXT_BUDGET_SMALL", layout.DefaultBudgets.Small),
			Medium: r.integer("EPD_TEXT_BUDGET_MEDIUM", layout.DefaultBudgets.Medium),
			Large:  r.integer("EPD_TEXT_BUDGET_LARGE", layout.DefaultBudgets.Large),
		},
		AllowedImageTypes:   r.list("EPD_ALLOWED_IMAGE_TYPES", DefaultAllowedImageTypes),
		UploadDir:           r.str("EPD_UPLOAD_DIR", DefaultUploadDir),
		UploadMaxBytes:      int64(r.integer("EPD_UPLOAD_MAX_BYTES", DefaultUploadMaxBytes)),
		UploadMaxAge:        r.duration("EPD_UPLOAD_MAX_AGE", DefaultUploadMaxAge),
		UploadSweepInterval: r.duration("EPD_UPLOAD_SWEEP_INTERVAL", DefaultUploadSweepInterval),
		MaxInputPixels:      int64(r.integer("EPD_MAX_INPUT_PIXELS", render.DefaultMaxInputPixels)),
		PublicDir:           r.str("EPD_PUBLIC_DIR", ""),
		DashboardsDir:       r.str("EPD_DASHBOARDS_DIR", ""),
		LogLevel:            r.str("EPD_LOG_LEVEL", DefaultLogLevel),
		LogFormat:           r.str("EPD_LOG_FORMAT", DefaultLogFormat),
		MQTT: events.Config{
			Broker:      r.str("EPD_MQTT_BROKER", ""),
			TopicPrefix: r.str("EPD_MQTT_TOPIC_PREFIX", DefaultMQTTTopicPrefix),
			Username:    r.str("EPD_MQTT_USERNAME", ""),
			Password:    r.str("EPD_MQTT_PASSWORD", ""),
			ClientID:    r.str("EPD_MQTT_CLIENT_ID", ""),
		},
		Archive: archive.Config{
			Endpoint:      r.str("EPD_ARCHIVE_ENDPOINT", ""),
			Bucket:        r.str("EPD_ARCHIVE_BUCKET", ""),
			Prefix:        r.str("EPD_ARCHIVE_PREFIX", archive.DefaultPrefix),
			AccessKeyFile: r.str("EPD_ARCHIVE_ACCESS_KEY_FILE", ""),
			SecretKeyFile: r.str("EPD_ARCHIVE_SECRET_KEY_FILE", ""),
			Region:        r.str("EPD_ARCHIVE_REGION", ""),
		},
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces invariants the parsers cannot.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.HTTPAddr == "" {
		return fmt.Errorf("EPD_HTTP_ADDR is required")
	}
	if cfg.MaxTextLength <= 0 {
		return fmt.Errorf("EPD_MAX_TEXT_LENGTH must be positive")
	}
	for name, d := range map[string]time.Duration{
		"EPD_POLL_TIMEOUT":          cfg.PollTimeout,
		"EPD_DISCOVERY_TIMEOUT":     cfg.DiscoveryTimeout,
		"EPD_SWEEP_INTERVAL":        cfg.SweepInterval,
		"EPD_BROADCAST_INTERVAL":    cfg.BroadcastInterval,
		"EPD_UPLOAD_MAX_AGE":        cfg.UploadMaxAge,
		"EPD_UPLOAD_SWEEP_INTERVAL": cfg.UploadSweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.MinPollInterval < 0 {
		return fmt.Errorf("EPD_MIN_POLL_INTERVAL must not be negative")
	}
	if cfg.MaxQueueLength < 0 {
		return fmt.Errorf("EPD_MAX_QUEUE_LENGTH must not be negative")
	}
	if cfg.DiscoveryPort <= 0 || cfg.DiscoveryPort > 65535 {
		return fmt.Errorf("EPD_DISCOVERY_PORT must be in 1..65535")
	}
	if cfg.DisplayWidth <= 0 || cfg.DisplayHeight <= 0 {
		return fmt.Errorf("display size must be positive")
	}
	if cfg.MainAreaHeight <= 0 || cfg.MainAreaHeight > cfg.DisplayHeight {
		return fmt.Errorf("EPD_MAIN_AREA_HEIGHT must be in 1..%d", cfg.DisplayHeight)
	}
	if err := cfg.TextBudgets.Validate(); err != nil {
		return fmt.Errorf("text budgets: %w", err)
	}
	if len(cfg.AllowedImageTypes) == 0 {
		return fmt.Errorf("EPD_ALLOWED_IMAGE_TYPES is required")
	}
	for _, mime := range cfg.AllowedImageTypes {
		if !renderableImageTypes[mime] {
			return fmt.Errorf("EPD_ALLOWED_IMAGE_TYPES: %s cannot be rendered (use %s or %s)", mime, render.MIMEJPEG, render.MIMEPNG)
		}
	}
	if cfg.MaxInputPixels <= 0 {
		return fmt.Errorf("EPD_MAX_INPUT_PIXELS must be positive")
	}
	if cfg.UploadDir == "" {
		return fmt.Errorf("EPD_UPLOAD_DIR is required")
	}
	if cfg.UploadMaxBytes <= 0 {
		return fmt.Errorf("EPD_UPLOAD_MAX_BYTES must be positive")
	}
	if cfg.Archive.Enabled() {
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("EPD_ARCHIVE_BUCKET is required")
		}
		if cfg.Archive.AccessKeyFile == "" {
			return fmt.Errorf("EPD_ARCHIVE_ACCESS_KEY_FILE is required")
		}
		if cfg.Archive.SecretKeyFile == "" {
			return fmt.Errorf("EPD_ARCHIVE_SECRET_KEY_FILE is required")
		}
	}
	return nil
}

// reader keeps the first parse error so LoadFrom reads as a flat table.
type reader struct {
	lookup Lookup
	err    error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("parse %s=%q: %w", key, value, err)
	}
}

// str treats a set-but-empty variable as explicitly empty, which is how
// EPD_GRPC_ADDR="" disables gRPC.
func (r *reader) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

// duration accepts Go durations ("90s") or bare milliseconds ("2000").
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return append([]string(nil), def...)
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
