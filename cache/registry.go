package cache

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/agentuity/go-provision/resilience"
)

// Factory builds a handler from its configuration. opts already carry the
// settings common to every handler type (name, prefix, schedule, codec and
// timeouts) followed by the options passed to the registry.
type Factory func(ctx context.Context, cfg Configuration, opts []Option) (Handler, error)

// Registry maps configuration type names to handler factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the builtin memory, redis and sqlite
// types registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("memory", newMemoryFromConfig)
	r.Register("redis", newRedisFromConfig)
	r.Register("sqlite", newSQLiteFromConfig)
	return r
}

// Register adds or replaces the factory for a type name.
func (r *Registry) Register(typ string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(typ)] = factory
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// New builds a single handler from cfg.
func (r *Registry) New(ctx context.Context, cfg Configuration, opts ...Option) (Handler, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(cfg.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownHandlerType, "%q", cfg.Type)
	}
	base, err := cfg.HandlerOptions()
	if err != nil {
		return nil, errors.Wrapf(err, "handler '%s'", cfg.HandlerName())
	}
	h, err := factory(ctx, cfg, append(base, opts...))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create handler '%s'", cfg.HandlerName())
	}
	return h, nil
}

// Build creates a collection with one tier per configured handler, in file
// order. Handlers already built are closed if a later one fails.
func (r *Registry) Build(ctx context.Context, file *File, opts ...Option) (*Collection, error) {
	if err := file.Validate(); err != nil {
		return nil, err
	}
	policy, _ := ParseResultPolicy(file.ResultPolicy)
	handlers := make([]Handler, 0, len(file.Handlers))
	for _, cfg := range file.Handlers {
		h, err := r.New(ctx, cfg, opts...)
		if err != nil {
			for _, built := range handlers {
				built.Close()
			}
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return NewCollection(handlers, WithResultPolicy(policy))
}

func newMemoryFromConfig(ctx context.Context, _ Configuration, opts []Option) (Handler, error) {
	return NewInMemory(ctx, opts...), nil
}

func newSQLiteFromConfig(ctx context.Context, cfg Configuration, opts []Option) (Handler, error) {
	path, _ := cfg.String("path")
	return NewSQLite(ctx, path, opts...)
}

// redisOptions resolves client options from either a url option or the
// host, port, database and password options.
func redisOptions(cfg Configuration) (*redis.Options, error) {
	if url, ok := cfg.String("url"); ok {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, invalidArgument("invalid redis url: %v", err)
		}
		return opts, nil
	}
	host, ok := cfg.String("host")
	if !ok {
		host = "localhost"
	}
	port, ok, err := cfg.Int("port")
	if err != nil {
		return nil, err
	}
	if !ok {
		port = 6379
	}
	db, _, err := cfg.Int("database")
	if err != nil {
		return nil, err
	}
	password, _ := cfg.String("password")
	return &redis.Options{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		DB:       db,
		Password: password,
	}, nil
}

func newRedisFromConfig(_ context.Context, cfg Configuration, opts []Option) (Handler, error) {
	clientOpts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	failures, hasBreaker, err := cfg.Int("breaker_failures")
	if err != nil {
		return nil, err
	}
	if hasBreaker {
		cooldown, _, err := cfg.Duration("breaker_cooldown")
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithBreaker(resilience.NewBreaker(resilience.Config{
			MaxFailures: failures,
			Cooldown:    cooldown,
		})))
	}
	h := NewRedis(redis.NewClient(clientOpts), opts...)
	h.closeClient = true
	return h, nil
}
