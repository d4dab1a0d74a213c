package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/go-provision/logger"
)

type report struct {
	ID      int       `json:"id" msgpack:"id"`
	Title   string    `json:"title" msgpack:"title"`
	Pages   []string  `json:"pages" msgpack:"pages"`
	Expires time.Time `json:"expires" msgpack:"expires"`
}

func (r *report) Expiry() time.Time     { return r.Expires }
func (r *report) SetExpiry(t time.Time) { r.Expires = t }

// clock is a settable time source for handlers built with withClock.
type clock struct {
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Now()}
}

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type backend struct {
	name   string
	regexp bool
	new    func(t *testing.T, opts ...Option) Handler
}

func testOptions(opts []Option) []Option {
	return append([]Option{WithLogger(logger.NewTestLogger())}, opts...)
}

func backends() []backend {
	return []backend{
		{
			name:   "memory",
			regexp: true,
			new: func(t *testing.T, opts ...Option) Handler {
				h := NewInMemory(context.Background(), testOptions(opts)...)
				t.Cleanup(func() { h.Close() })
				return h
			},
		},
		{
			name: "redis",
			new: func(t *testing.T, opts ...Option) Handler {
				_, client := newTestRedis(t)
				h := NewRedis(client, testOptions(opts)...)
				t.Cleanup(func() { h.Close() })
				return h
			},
		},
		{
			name: "sqlite",
			new: func(t *testing.T, opts ...Option) Handler {
				h, err := NewSQLite(context.Background(), "", testOptions(opts)...)
				require.NoError(t, err)
				t.Cleanup(func() { h.Close() })
				return h
			},
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b)
		})
	}
}
