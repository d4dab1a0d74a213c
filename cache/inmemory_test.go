package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/go-provision/logger"
)

func newTestMemory(t *testing.T, opts ...Option) *inMemoryHandler {
	t.Helper()
	h := NewInMemory(context.Background(), testOptions(opts)...)
	t.Cleanup(func() { h.Close() })
	return h.(*inMemoryHandler)
}

func TestInMemoryStoresValuesAsIs(t *testing.T) {
	ctx := context.Background()
	h := newTestMemory(t)
	r := &report{ID: 1, Title: "before"}
	_, err := h.AddOrUpdate(ctx, "r", r, time.Now().Add(time.Hour))
	require.NoError(t, err)

	r.Title = "after"
	assert.Equal(t, "after", GetValue[*report](ctx, h, "r").Title)

	item := h.Get(ctx, "r")
	assert.Same(t, r, item.Raw)
	assert.Equal(t, "memory", item.Handler)
}

func TestInMemoryExpiresWithClock(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	h := newTestMemory(t, withClock(clk.Now))

	_, err := AddOrUpdate(ctx, h, "k", "v", clk.Now().Add(time.Second))
	require.NoError(t, err)
	assert.True(t, h.Contains(ctx, "k"))

	clk.Advance(2 * time.Second)
	assert.False(t, h.Contains(ctx, "k"))
	assert.False(t, Get[string](ctx, h, "k").HasValue)
}

func TestInMemoryReaper(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	h := newTestMemory(t, withClock(clk.Now), WithExpiryCheck(time.Hour))

	_, err := AddOrUpdate(ctx, h, "short", "v", clk.Now().Add(time.Second), "t")
	require.NoError(t, err)
	_, err = AddOrUpdate(ctx, h, "long", "v", clk.Now().Add(time.Hour), "t")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	h.reap(clk.Now())

	h.mutex.Lock()
	defer h.mutex.Unlock()
	assert.NotContains(t, h.cache, "short")
	assert.Contains(t, h.cache, "long")
	assert.NotContains(t, h.tags["t"], "short")
	assert.Contains(t, h.tags["t"], "long")
}

func TestInMemoryCompositeSharesContainerExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	h := newTestMemory(t, withClock(clk.Now))

	_, err := AddOrUpdate(ctx, h, "c#a", 1, clk.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = AddOrUpdate(ctx, h, "c#b", 2, clk.Now().Add(time.Second))
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	assert.False(t, h.Contains(ctx, "c#a"))
	assert.False(t, h.Contains(ctx, "c#b"))
}

func TestInMemoryPlainAndCompositeDoNotMix(t *testing.T) {
	ctx := context.Background()
	h := newTestMemory(t)
	expires := time.Now().Add(time.Hour)

	_, err := AddOrUpdate(ctx, h, "c", "plain", expires)
	require.NoError(t, err)
	_, err = AddOrUpdate(ctx, h, "c#f", "field", expires)
	require.NoError(t, err)

	assert.False(t, h.Contains(ctx, "c"))
	assert.True(t, h.Contains(ctx, "c#f"))
}

func TestInMemoryPatternSyntax(t *testing.T) {
	ctx := context.Background()
	h := newTestMemory(t)
	expires := time.Now().Add(time.Hour)
	for _, key := range []string{"a1", "b1", "c1", "user#name", "user#email"} {
		_, err := AddOrUpdate(ctx, h, key, key, expires)
		require.NoError(t, err)
	}

	ok, err := h.RemoveByPattern(ctx, "[ab]1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, h.Contains(ctx, "a1"))
	assert.False(t, h.Contains(ctx, "b1"))
	assert.True(t, h.Contains(ctx, "c1"))

	// patterns can address single fields
	_, err = h.RemoveByPattern(ctx, "user#e*")
	require.NoError(t, err)
	assert.True(t, h.Contains(ctx, "user#name"))
	assert.False(t, h.Contains(ctx, "user#email"))

	_, err = h.RemoveByRegexp(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInMemoryLogsMisses(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger()
	h := newTestMemory(t, WithLogger(log))
	h.Get(ctx, "missing")
	assert.Equal(t, 1, log.Count("DEBUG"))
}

func TestInMemoryCloseIsIdempotent(t *testing.T) {
	h := NewInMemory(context.Background(), WithLogger(logger.NewTestLogger()))
	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())
}
