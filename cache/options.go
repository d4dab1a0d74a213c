package cache

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentuity/go-provision/logger"
	"github.com/agentuity/go-provision/resilience"
)

// DefaultQueryTimeout is the per-operation timeout for cache backends that
// perform I/O (SQLite, Redis). Prevents indefinite hangs on slow or
// unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a handler implementation.
type config struct {
	name             string
	keys             KeyBuilder
	schedule         *Schedule
	codec            Codec
	queryTimeout     time.Duration
	expiryCheck      time.Duration
	indexMaintenance time.Duration
	logger           logger.Logger
	breaker          *resilience.Breaker
	tracerProvider   trace.TracerProvider
	tracer           trace.Tracer
	now              func() time.Time
}

// Option configures a Handler implementation.
type Option func(*config)

func defaultConfig(name string) config {
	return config{
		name:         name,
		keys:         KeyBuilder{Separator: DefaultSeparator},
		codec:        MsgpackCodec{},
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
		now:          time.Now,
	}
}

func applyOptions(name string, opts []Option) config {
	cfg := defaultConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.schedule == nil {
		cfg.schedule = MustParseSchedule(DefaultExpireSchedule)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger()
	}
	cfg.logger = cfg.logger.WithPrefix("[" + cfg.name + "]")
	cfg.tracer = tracerFrom(cfg.tracerProvider)
	return cfg
}

// expiry resolves the effective expiry of a write.
func (c *config) expiry(expires time.Time) time.Time {
	if expires.IsZero() {
		return c.schedule.Next(c.now())
	}
	return expires
}

// WithName sets the handler name used in logs, items and collections.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithPrefix sets the key prefix for namespacing cache keys. Redis index
// keys live under the same prefix, so Purge only touches this namespace.
func WithPrefix(p string) Option {
	return func(c *config) { c.keys.Prefix = p }
}

// WithSeparator sets the string joining key segments. Defaults to ":".
func WithSeparator(s string) Option {
	return func(c *config) {
		if s != "" {
			c.keys.Separator = s
		}
	}
}

// WithSchedule sets the schedule used to compute an expiry when a write
// does not supply one. Defaults to the next minute boundary.
func WithSchedule(s *Schedule) Option {
	return func(c *config) { c.schedule = s }
}

// WithCodec sets the value codec for serializing backends (SQLite, Redis).
// Defaults to msgpack.
func WithCodec(codec Codec) Option {
	return func(c *config) { c.codec = codec }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed caches
// (SQLite, Redis). Defaults to DefaultQueryTimeout (5 seconds).
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to InMemory and SQLite backends. Defaults to 1 minute.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithIndexMaintenance limits how often the Redis handler removes expired
// index entries before a write. Zero runs maintenance before every write.
func WithIndexMaintenance(d time.Duration) Option {
	return func(c *config) { c.indexMaintenance = d }
}

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithBreaker guards backend calls with a circuit breaker. While the circuit
// is open reads miss and writes are skipped without waiting on the backend.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *config) { c.breaker = b }
}

// WithTracerProvider sets the provider of the spans recorded around Redis
// calls. Defaults to the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// withClock replaces time.Now, for tests.
func withClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
