package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khattlab/khatt/pkg/logging"
	"github.com/khattlab/khatt/pkg/retry"
)

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	// Addr is the Redis server address (default: "localhost:6379")
	Addr string `toml:"addr"`

	// Password is the Redis password (empty for no auth)
	Password string `toml:"password"`

	// DB is the Redis database number
	DB int `toml:"db"`

	// Stream is the stream key events are appended to (default: "khatt:events")
	Stream string `toml:"stream"`

	// MaxLen trims the stream approximately to this many entries (0 = unbounded)
	MaxLen int64 `toml:"max_len"`

	// WriteTimeout bounds each XADD (default: 2s)
	WriteTimeout time.Duration `toml:"write_timeout"`

	// Retries is how often a failed XADD is retried (0 = never)
	Retries int `toml:"retries"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Stream:       "khatt:events",
		MaxLen:       100000,
		WriteTimeout: 2 * time.Second,
		Retries:      2,
	}
}

// streamWriter is the part of the go-redis client the sink uses.
type streamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends events to a Redis stream. Each event is one entry
// with "event", "ts" and a JSON "props" field.
type RedisSink struct {
	client streamWriter
	closer func() error
	ping   func(ctx context.Context) error
	retry  *retry.Config
	cfg    RedisConfig
	logger logging.Logger
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig, logger logging.Logger) (*RedisSink, error) {
	cfg = withRedisDefaults(cfg)
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	s := newRedisSink(client, cfg, logger)
	s.closer = client.Close
	s.ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return s, nil
}

func newRedisSink(client streamWriter, cfg RedisConfig, logger logging.Logger) *RedisSink {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	cfg = withRedisDefaults(cfg)
	rc := retry.DefaultConfig()
	rc.MaxRetries = max(cfg.Retries, 0)
	rc.InitialDelay = 50 * time.Millisecond
	rc.MaxDelay = 500 * time.Millisecond
	// Server replies (WRONGTYPE, OOM, auth) will not change on a retry.
	rc.RetryIf = func(err error) bool {
		var reply redis.Error
		return !errors.As(err, &reply)
	}
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("analytics: retrying redis append",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
	}
	return &RedisSink{
		client: client,
		closer: func() error { return nil },
		ping:   func(context.Context) error { return nil },
		retry:  rc,
		cfg:    cfg,
		logger: logger,
	}
}

func withRedisDefaults(cfg RedisConfig) RedisConfig {
	def := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return cfg
}

// Record appends the event synchronously. Wrap the sink in Async to keep
// the network off the caller's path.
func (s *RedisSink) Record(event string, props Props) {
	payload, err := json.Marshal(props)
	if err != nil {
		s.logger.Warn("analytics: props not encodable", logging.String("event", event), logging.Err(err))
		payload = []byte("{}")
	}

	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: map[string]any{
			"event": event,
			"ts":    time.Now().UnixMilli(),
			"props": string(payload),
		},
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	err = retry.Do(context.Background(), s.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
		return s.client.XAdd(ctx, args).Err()
	})
	if err != nil {
		s.logger.Warn("analytics: redis append failed",
			logging.String("event", event),
			logging.String("stream", s.cfg.Stream),
			logging.Err(err),
		)
	}
}

// Ping checks the connection. It backs the readiness check.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.closer()
}
