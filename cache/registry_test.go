package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(`
result_policy: any
handlers:
  - name: local
    type: memory
    expire_schedule: "@every 10m"
  - type: sqlite
    prefix: disk
    options:
      expiry_check: 1d
      codec: json
`))
	require.NoError(t, err)
	require.Len(t, f.Handlers, 2)
	assert.Equal(t, "any", f.ResultPolicy)
	assert.Equal(t, "local", f.Handlers[0].HandlerName())
	assert.Equal(t, "sqlite", f.Handlers[1].HandlerName())

	d, ok, err := f.Handlers[1].Duration("expiry_check")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)

	codec, ok := f.Handlers[1].String("codec")
	assert.True(t, ok)
	assert.Equal(t, "json", codec)
}

func TestParseFileValidation(t *testing.T) {
	_, err := ParseFile([]byte(`handlers: []`))
	assert.ErrorIs(t, err, ErrNoHandlers)

	_, err = ParseFile([]byte("handlers:\n  - name: a\n"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseFile([]byte("handlers:\n  - type: memory\n  - type: memory\n"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseFile([]byte("result_policy: most\nhandlers:\n  - type: memory\n"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseFile([]byte("handlers: {"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)

	fn := filepath.Join(t.TempDir(), "provision.yaml")
	require.NoError(t, os.WriteFile(fn, []byte("handlers:\n  - type: memory\n"), 0644))
	f, err := LoadFile(fn)
	require.NoError(t, err)
	assert.Len(t, f.Handlers, 1)
}

func TestConfigurationOptionValues(t *testing.T) {
	cfg := Configuration{Options: map[string]any{
		"port":    6380,
		"db":      "2",
		"timeout": 3,
		"bad":     "soon",
		"list":    []any{1},
	}}
	n, ok, err := cfg.Int("port")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6380, n)

	n, _, err = cfg.Int("db")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err = cfg.Int("missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = cfg.Int("list")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	d, ok, err := cfg.Duration("timeout")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, _, err = cfg.Duration("bad")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConfigurationHandlerOptions(t *testing.T) {
	_, err := Configuration{Type: "memory", ExpireSchedule: "never"}.HandlerOptions()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Configuration{Type: "memory", Options: map[string]any{"codec": "gob"}}.HandlerOptions()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Configuration{Type: "memory", Options: map[string]any{"compress": "maybe"}}.HandlerOptions()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	opts, err := Configuration{Name: "n", Type: "memory", Prefix: "p", Separator: "/"}.HandlerOptions()
	require.NoError(t, err)
	cfg := applyOptions("memory", opts)
	assert.Equal(t, "n", cfg.name)
	assert.Equal(t, KeyBuilder{Prefix: "p", Separator: "/"}, cfg.keys)
	assert.Equal(t, "msgpack", cfg.codec.Name())

	opts, err = Configuration{Type: "redis", Options: map[string]any{"codec": "json", "compress": true}}.HandlerOptions()
	require.NoError(t, err)
	assert.Equal(t, "json+gzip", applyOptions("redis", opts).codec.Name())
}

func TestRegistryBuildCompressedRedis(t *testing.T) {
	ctx := context.Background()
	mr, _ := newTestRedis(t)
	f, err := ParseFile([]byte(`
handlers:
  - type: redis
    options:
      url: redis://` + mr.Addr() + `
      compress: "true"
`))
	require.NoError(t, err)
	c, err := NewRegistry().Build(ctx, f, testOptions(nil)...)
	require.NoError(t, err)
	defer c.Close()

	_, err = AddOrUpdate(ctx, c, "k", "compressed value", time.Now().Add(time.Hour))
	require.NoError(t, err)
	raw, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "\x1f\x8b", raw[:2])
	assert.Equal(t, "compressed value", GetValue[string](ctx, c, "k"))
}

func TestRegistryBuild(t *testing.T) {
	ctx := context.Background()
	mr, _ := newTestRedis(t)
	f, err := ParseFile([]byte(`
handlers:
  - name: local
    type: memory
  - name: disk
    type: sqlite
  - name: shared
    type: redis
    prefix: provision
    options:
      url: redis://` + mr.Addr() + `/0
      query_timeout: 2s
      breaker_failures: 3
      breaker_cooldown: 10s
`))
	require.NoError(t, err)

	c, err := NewRegistry().Build(ctx, f, testOptions(nil)...)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 3, c.Len())

	shared, ok := c.Handler("shared")
	require.True(t, ok)
	rh, ok := shared.(*RedisHandler)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, rh.cfg.queryTimeout)
	assert.NotNil(t, rh.cfg.breaker)
	assert.True(t, rh.closeClient)

	key, err := c.CreateKey("k")
	require.NoError(t, err)
	_, err = AddOrUpdate(ctx, c, key, "v", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, mr.Exists("k"))
	assert.True(t, mr.Exists("provision:__index"))
}

func TestRegistryUnknownType(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"memory", "redis", "sqlite"}, r.Types())

	_, err := r.New(context.Background(), Configuration{Name: "x", Type: "memcached"})
	assert.ErrorIs(t, err, ErrUnknownHandlerType)

	_, err = r.Build(context.Background(), &File{Handlers: []Configuration{
		{Name: "ok", Type: "memory"},
		{Name: "bad", Type: "memcached"},
	}}, testOptions(nil)...)
	assert.ErrorIs(t, err, ErrUnknownHandlerType)
}

func TestRegistryCustomFactory(t *testing.T) {
	r := NewRegistry()
	var seen Configuration
	r.Register("Custom", func(ctx context.Context, cfg Configuration, opts []Option) (Handler, error) {
		seen = cfg
		return NewInMemory(ctx, opts...), nil
	})
	h, err := r.New(context.Background(), Configuration{Name: "mine", Type: "custom"}, testOptions(nil)...)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, "mine", h.Name())
	assert.Equal(t, "mine", seen.Name)
}

func TestRedisOptionsFromHostFields(t *testing.T) {
	opts, err := redisOptions(Configuration{Options: map[string]any{
		"host": "cache.internal", "port": 6380, "database": 2, "password": "secret",
	}})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "secret", opts.Password)

	opts, err = redisOptions(Configuration{})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	_, err = redisOptions(Configuration{Options: map[string]any{"url": "http://nope"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
