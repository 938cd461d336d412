// Package config loads the khatt server and renderer settings from TOML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/khattlab/khatt/pkg/analytics"
	"github.com/khattlab/khatt/pkg/core"
	"github.com/khattlab/khatt/pkg/fonts"
	"github.com/khattlab/khatt/pkg/transport"
	"github.com/khattlab/khatt/pkg/uploads"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "KHATT_CONFIG"

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func dur(v time.Duration) Duration { return Duration{v} }

// Config is the full configuration file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Render    RenderConfig    `toml:"render"`
	Fonts     FontsConfig     `toml:"fonts"`
	Uploads   UploadsConfig   `toml:"uploads"`
	Analytics AnalyticsConfig `toml:"analytics"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig configures the HTTP server and live sessions.
type ServerConfig struct {
	Addr string `toml:"addr"`

	// AllowedOrigins are extra WebSocket origins besides the page's own host.
	AllowedOrigins  []string `toml:"allowed_origins"`
	InsecureDevMode bool     `toml:"insecure_dev_mode"`

	MaxSessions    int      `toml:"max_sessions"`
	MaxMessageSize int64    `toml:"max_message_size"`
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	SessionIdle    Duration `toml:"session_idle"`

	// UploadRateLimit is the per-client request rate for the upload endpoint.
	UploadRateLimit int      `toml:"upload_rate_limit"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// RenderConfig configures rasterization and export.
type RenderConfig struct {
	// SingleFlight drops a second export of the same kind while one runs.
	SingleFlight bool `toml:"single_flight"`

	// ExportTimeout bounds one export including the page round trip.
	ExportTimeout Duration `toml:"export_timeout"`

	// MaxPixels caps the bitmap of one capture. Zero removes the cap.
	MaxPixels int `toml:"max_pixels"`

	// DevicePixelRatio is used when the page does not report one.
	DevicePixelRatio float64 `toml:"device_pixel_ratio"`

	// OutputDir is where the render command writes files.
	OutputDir string `toml:"output_dir"`
}

// FontsConfig configures font files.
type FontsConfig struct {
	Dir     string       `toml:"dir"`
	Default string       `toml:"default"`
	Extra   []fonts.Font `toml:"extra"`
}

// UploadsConfig configures background uploads.
type UploadsConfig struct {
	// MaxBytes caps an uploaded image. Zero means no cap.
	MaxBytes int64 `toml:"max_bytes"`
}

// AnalyticsConfig configures the export event sink.
type AnalyticsConfig struct {
	// Sink is "log", "redis" or "none".
	Sink       string `toml:"sink"`
	BufferSize int    `toml:"buffer_size"`

	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	Stream        string   `toml:"stream"`
	MaxLen        int64    `toml:"max_len"`
	WriteTimeout  Duration `toml:"write_timeout"`
	Retries       int      `toml:"retries"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	tc := transport.DefaultTransportConfig()
	timeouts := core.DefaultTimeoutConfig()
	redis := analytics.DefaultRedisConfig()

	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxSessions:     10000,
			MaxMessageSize:  tc.MaxMessageSize,
			ReadTimeout:     dur(tc.ReadTimeout),
			WriteTimeout:    dur(tc.WriteTimeout),
			SessionIdle:     dur(timeouts.SessionIdle),
			UploadRateLimit: 5,
			ShutdownTimeout: dur(timeouts.GracefulShutdown),
		},
		Render: RenderConfig{
			ExportTimeout:    dur(timeouts.Request),
			MaxPixels:        64 << 20,
			DevicePixelRatio: 1,
			OutputDir:        ".",
		},
		Fonts: FontsConfig{
			Dir:     "fonts",
			Default: "amiri",
		},
		Analytics: AnalyticsConfig{
			Sink:         "log",
			BufferSize:   256,
			RedisAddr:    redis.Addr,
			Stream:       redis.Stream,
			MaxLen:       redis.MaxLen,
			WriteTimeout: dur(redis.WriteTimeout),
			Retries:      redis.Retries,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the file at path on top of the defaults. An empty path falls
// back to $KHATT_CONFIG; with neither set the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML text on top of the defaults.
func Parse(data string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return ErrEmptyAddr
	}
	if c.Server.MaxMessageSize <= 0 {
		return ErrInvalidMaxMessageSize
	}
	if c.Uploads.MaxBytes < 0 {
		return ErrNegativeUploadCap
	}
	// Uploaded images come back over the socket as base64 data URLs.
	if c.Uploads.MaxBytes > 0 && c.Uploads.MaxBytes*4/3 >= c.Server.MaxMessageSize {
		return ErrUploadExceedsMessage
	}
	if c.Server.ReadTimeout.Duration <= 0 || c.Server.WriteTimeout.Duration <= 0 {
		return ErrInvalidTimeout
	}
	if c.Render.ExportTimeout.Duration <= 0 {
		return ErrInvalidTimeout
	}
	if c.Render.DevicePixelRatio <= 0 {
		return ErrInvalidPixelRatio
	}
	if c.Render.MaxPixels < 0 {
		return ErrNegativeMaxPixels
	}
	switch c.Analytics.Sink {
	case "log", "redis", "none":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSink, c.Analytics.Sink)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLogFormat, c.Logging.Format)
	}
	return nil
}

// Timeouts maps the server settings onto the live session timeouts.
func (c Config) Timeouts() core.TimeoutConfig {
	t := core.DefaultTimeoutConfig()
	t.SessionIdle = c.Server.SessionIdle.Duration
	t.Request = c.Render.ExportTimeout.Duration
	t.GracefulShutdown = c.Server.ShutdownTimeout.Duration
	return t
}

// Transport maps the server settings onto the WebSocket limits.
func (c Config) Transport() *transport.TransportConfig {
	tc := transport.DefaultTransportConfig()
	tc.ReadTimeout = c.Server.ReadTimeout.Duration
	tc.WriteTimeout = c.Server.WriteTimeout.Duration
	tc.MaxMessageSize = c.Server.MaxMessageSize
	return tc
}

// WebSocket returns the origin policy.
func (c Config) WebSocket() *transport.WebSocketConfig {
	return &transport.WebSocketConfig{
		AllowedOrigins:  c.Server.AllowedOrigins,
		InsecureDevMode: c.Server.InsecureDevMode,
	}
}

// Redis returns the Redis sink settings.
func (c Config) Redis() analytics.RedisConfig {
	return analytics.RedisConfig{
		Addr:         c.Analytics.RedisAddr,
		Password:     c.Analytics.RedisPassword,
		DB:           c.Analytics.RedisDB,
		Stream:       c.Analytics.Stream,
		MaxLen:       c.Analytics.MaxLen,
		WriteTimeout: c.Analytics.WriteTimeout.Duration,
		Retries:      c.Analytics.Retries,
	}
}

// Upload returns the upload handler settings.
func (c Config) Upload() *uploads.UploadConfig {
	uc := uploads.DefaultUploadConfig()
	uc.MaxFileSize = c.Uploads.MaxBytes
	return uc
}

// FontRegistry returns the built-in fonts plus any configured extras.
func (c Config) FontRegistry() *fonts.Registry {
	all := append(append([]fonts.Font(nil), fonts.Builtin...), c.Fonts.Extra...)
	return fonts.NewRegistry(all...)
}

// Config errors.
var (
	ErrEmptyAddr             = configError("server.addr must not be empty")
	ErrInvalidMaxMessageSize = configError("server.max_message_size must be positive")
	ErrInvalidTimeout        = configError("timeouts must be positive")
	ErrNegativeUploadCap     = configError("uploads.max_bytes must not be negative")
	ErrUploadExceedsMessage  = configError("uploads.max_bytes does not fit in server.max_message_size once encoded")
	ErrInvalidPixelRatio     = configError("render.device_pixel_ratio must be positive")
	ErrNegativeMaxPixels     = configError("render.max_pixels must not be negative")
	ErrUnknownSink           = configError("unknown analytics sink")
	ErrUnknownLogFormat      = configError("unknown logging format")
)

type configError string

func (e configError) Error() string { return string(e) }
