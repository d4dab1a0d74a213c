package cache

import (
	"context"
	"regexp"
	"time"
)

// ResultPolicy decides how the per-tier results of a removal fan-out are
// combined into the value a Collection returns.
type ResultPolicy int

const (
	// LastTier reports the result of the last tier.
	LastTier ResultPolicy = iota
	// AllTiers reports true only when every tier succeeded.
	AllTiers
	// AnyTier reports true when at least one tier succeeded.
	AnyTier
)

func (p ResultPolicy) String() string {
	switch p {
	case LastTier:
		return "last"
	case AllTiers:
		return "all"
	case AnyTier:
		return "any"
	}
	return "unknown"
}

func (p ResultPolicy) combine(results []bool) bool {
	if len(results) == 0 {
		return false
	}
	switch p {
	case AllTiers:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	case AnyTier:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	return results[len(results)-1]
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithResultPolicy sets how removal results are combined. Defaults to LastTier.
func WithResultPolicy(p ResultPolicy) CollectionOption {
	return func(c *Collection) { c.policy = p }
}

// Collection composes an ordered list of handlers into tiers. Reads fall
// through the tiers until one has the key; writes and removals go to every
// tier in order.
type Collection struct {
	handlers []Handler
	byName   map[string]Handler
	policy   ResultPolicy
}

var _ Handler = (*Collection)(nil)

// NewCollection builds a collection over handlers, which must be non-empty
// and uniquely named. The first handler is the first tier probed on reads.
func NewCollection(handlers []Handler, opts ...CollectionOption) (*Collection, error) {
	if len(handlers) == 0 {
		return nil, invalidArgument("a collection needs at least one handler")
	}
	c := &Collection{
		handlers: handlers,
		byName:   make(map[string]Handler, len(handlers)),
	}
	for i, h := range handlers {
		if h == nil {
			return nil, invalidArgument("handler at position %d is nil", i)
		}
		if _, ok := c.byName[h.Name()]; ok {
			return nil, invalidArgument("duplicate handler name '%s'", h.Name())
		}
		c.byName[h.Name()] = h
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Collection) Name() string {
	return "collection"
}

// Len returns the number of tiers.
func (c *Collection) Len() int {
	return len(c.handlers)
}

// At returns the handler at tier i.
func (c *Collection) At(i int) (Handler, bool) {
	if i < 0 || i >= len(c.handlers) {
		return nil, false
	}
	return c.handlers[i], true
}

// Handler returns the handler with the given name.
func (c *Collection) Handler(name string) (Handler, bool) {
	h, ok := c.byName[name]
	return h, ok
}

// Handlers returns the tiers in order.
func (c *Collection) Handlers() []Handler {
	return append([]Handler(nil), c.handlers...)
}

// CreateKey builds keys with the first tier's key builder.
func (c *Collection) CreateKey(segments ...any) (string, error) {
	return c.handlers[0].CreateKey(segments...)
}

func (c *Collection) Contains(ctx context.Context, key string) bool {
	for _, h := range c.handlers {
		if h.Contains(ctx, key) {
			return true
		}
	}
	return false
}

func (c *Collection) Get(ctx context.Context, key string) Item[any] {
	for _, h := range c.handlers {
		if item := h.Get(ctx, key); item.HasValue {
			return item
		}
	}
	return Empty[any](key)
}

// GetByTag concatenates the items of every tier.
func (c *Collection) GetByTag(ctx context.Context, tags ...string) []Item[any] {
	var items []Item[any]
	for _, h := range c.handlers {
		items = append(items, h.GetByTag(ctx, tags...)...)
	}
	return items
}

// AddOrUpdate writes to every tier. It returns the last tier's value and the
// first error seen.
func (c *Collection) AddOrUpdate(ctx context.Context, key string, val any, expires time.Time, tags ...string) (any, error) {
	var (
		out      = val
		firstErr error
	)
	for _, h := range c.handlers {
		res, err := h.AddOrUpdate(ctx, key, val, expires, tags...)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = res
	}
	return out, firstErr
}

func (c *Collection) each(fn func(h Handler) bool) bool {
	results := make([]bool, 0, len(c.handlers))
	for _, h := range c.handlers {
		results = append(results, fn(h))
	}
	return c.policy.combine(results)
}

func (c *Collection) eachErr(fn func(h Handler) (bool, error)) (bool, error) {
	var firstErr error
	ok := c.each(func(h Handler) bool {
		res, err := fn(h)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return res
	})
	return ok, firstErr
}

func (c *Collection) RemoveByKey(ctx context.Context, key string) bool {
	return c.each(func(h Handler) bool { return h.RemoveByKey(ctx, key) })
}

func (c *Collection) RemoveByPattern(ctx context.Context, pattern string) (bool, error) {
	return c.eachErr(func(h Handler) (bool, error) { return h.RemoveByPattern(ctx, pattern) })
}

// RemoveByRegexp runs on every tier; tiers that do not support regular
// expressions report false and ErrUnsupported.
func (c *Collection) RemoveByRegexp(ctx context.Context, re *regexp.Regexp) (bool, error) {
	return c.eachErr(func(h Handler) (bool, error) { return h.RemoveByRegexp(ctx, re) })
}

func (c *Collection) RemoveByTag(ctx context.Context, tags ...string) bool {
	return c.each(func(h Handler) bool { return h.RemoveByTag(ctx, tags...) })
}

func (c *Collection) Purge(ctx context.Context) bool {
	return c.each(func(h Handler) bool { return h.Purge(ctx) })
}

// Close closes every tier and returns the first error.
func (c *Collection) Close() error {
	var firstErr error
	for _, h := range c.handlers {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
