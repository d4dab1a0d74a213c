package cache

import (
	"context"
	"regexp"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

// Handler is the contract every backing store adapter implements, and the
// multi-tier Collection implements on top of them.
//
// Backend failures are logged and reported as a miss, false or an empty
// result rather than returned, so a cache outage degrades to cache misses.
// Returned errors are reserved for caller mistakes (ErrInvalidArgument) and
// operations the backend cannot perform (ErrUnsupported).
type Handler interface {
	// Name identifies the handler inside a collection.
	Name() string
	// CreateKey builds a key from ordered segments using the handler's
	// prefix and separator. Fails with ErrInvalidArgument on a nil segment.
	CreateKey(segments ...any) (string, error)
	// Contains reports whether key holds a live value.
	Contains(ctx context.Context, key string) bool
	// Get returns the item stored at key, or a miss. Serializing backends
	// return the encoded bytes in Raw; use the generic Get to decode.
	Get(ctx context.Context, key string) Item[any]
	// GetByTag returns the live items associated with any of the tags.
	GetByTag(ctx context.Context, tags ...string) []Item[any]
	// AddOrUpdate stores val at key. A zero expires selects the handler's
	// default schedule; NoExpiry stores the value without expiry.
	AddOrUpdate(ctx context.Context, key string, val any, expires time.Time, tags ...string) (any, error)
	// RemoveByKey removes key, or the field of a composite key.
	RemoveByKey(ctx context.Context, key string) bool
	// RemoveByPattern removes keys matching a glob style pattern (*, ?, [...]).
	RemoveByPattern(ctx context.Context, pattern string) (bool, error)
	// RemoveByRegexp removes keys matching re, where the backend supports it.
	RemoveByRegexp(ctx context.Context, re *regexp.Regexp) (bool, error)
	// RemoveByTag removes every key associated with any of the tags.
	RemoveByTag(ctx context.Context, tags ...string) bool
	// Purge removes every key the handler is responsible for.
	Purge(ctx context.Context) bool
	// Close releases resources owned by the handler.
	Close() error
}

// Decode converts a raw item into a typed item. In-process values are
// type asserted; serialized values are unmarshaled with the producing
// handler's codec.
func Decode[T any](raw Item[any]) (Item[T], error) {
	if !raw.HasValue {
		return Empty[T](raw.Key), nil
	}
	item := Item[T]{Key: raw.Key, Raw: raw.Raw, Expires: raw.Expires, Handler: raw.Handler, HasValue: true, codec: raw.codec}
	if typed, ok := raw.Value.(T); ok {
		item.Value = typed
		MergeExpire(&item)
		return item, nil
	}
	if data, ok := raw.Raw.([]byte); ok && raw.codec != nil {
		if err := raw.codec.Unmarshal(data, &item.Value); err != nil {
			return Empty[T](raw.Key), errors.Wrapf(err, "cache: failed to unmarshal %q", raw.Key)
		}
		MergeExpire(&item)
		return item, nil
	}
	var zero T
	return Empty[T](raw.Key), errors.Newf("cache: cannot convert value of type %T to %T", raw.Value, zero)
}

// Get retrieves a typed item. Values that cannot be decoded into T are
// reported as a miss. On a Collection a tier whose value does not decode
// into T is skipped and the next tier is tried.
func Get[T any](ctx context.Context, h Handler, key string) Item[T] {
	if c, ok := h.(*Collection); ok {
		for _, tier := range c.handlers {
			if item := Get[T](ctx, tier, key); item.HasValue {
				return item
			}
		}
		return Empty[T](key)
	}
	item, err := Decode[T](h.Get(ctx, key))
	if err != nil {
		return Empty[T](key)
	}
	return item
}

// GetValue retrieves the unwrapped value at key, or the zero value of T.
func GetValue[T any](ctx context.Context, h Handler, key string) T {
	return Get[T](ctx, h, key).Value
}

// GetByTag retrieves the typed items associated with the tags, skipping
// values that cannot be decoded into T.
func GetByTag[T any](ctx context.Context, h Handler, tags ...string) []Item[T] {
	raws := h.GetByTag(ctx, tags...)
	items := make([]Item[T], 0, len(raws))
	for _, raw := range raws {
		if item, err := Decode[T](raw); err == nil && item.HasValue {
			items = append(items, item)
		}
	}
	return items
}

// Initializer is implemented by wrapper types returned from GetAs.
type Initializer[T any] interface {
	Initialize(value T, expires time.Time)
}

// GetAs retrieves the value at key and wraps it in a new W. The second
// result is false on a miss.
func GetAs[T any, W any, PW interface {
	*W
	Initializer[T]
}](ctx context.Context, h Handler, key string) (*W, bool) {
	item := Get[T](ctx, h, key)
	if !item.HasValue {
		return nil, false
	}
	w := PW(new(W))
	w.Initialize(item.Value, item.Expires)
	return (*W)(w), true
}

// AddOrUpdate is the typed form of Handler.AddOrUpdate.
func AddOrUpdate[T any](ctx context.Context, h Handler, key string, val T, expires time.Time, tags ...string) (T, error) {
	out, err := h.AddOrUpdate(ctx, key, val, expires, tags...)
	if typed, ok := out.(T); ok {
		return typed, err
	}
	return val, err
}

// ExecConfig configures the Exec helper.
type ExecConfig struct {
	// Key is the cache key. Required.
	Key string
	// Expires is the absolute expiry. Zero uses the handler's schedule.
	Expires time.Time
	// Tags are attached to the stored value.
	Tags []string
	// Group, when set, collapses concurrent misses for the same key into a
	// single invocation.
	Group *singleflight.Group
}

// Invoker is a function that produces a value of type T.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value (e.g. sql.ErrNoRows scenarios).
type Invoker[T any] func(ctx context.Context) (T, bool, error)

type invokeResult[T any] struct {
	val   T
	found bool
}

// Exec is a cache-aside helper. It checks the cache for config.Key first.
// On a hit it returns the cached value with found=true. On a miss it calls
// invoke; a found result is stored and returned, a not-found result is
// returned without caching. Errors from invoke are propagated. A failure to
// store the value is swallowed since the primary operation succeeded.
func Exec[T any](ctx context.Context, config ExecConfig, h Handler, invoke Invoker[T]) (bool, T, error) {
	var zero T
	if config.Key == "" {
		return false, zero, invalidArgument("exec requires a key")
	}
	if item := Get[T](ctx, h, config.Key); item.HasValue {
		return true, item.Value, nil
	}

	load := func() (any, error) {
		val, ok, err := invoke(ctx)
		if err != nil || !ok {
			return invokeResult[T]{val: val}, err
		}
		_, _ = h.AddOrUpdate(ctx, config.Key, val, config.Expires, config.Tags...)
		return invokeResult[T]{val: val, found: true}, nil
	}

	var (
		out any
		err error
	)
	if config.Group != nil {
		out, err, _ = config.Group.Do(config.Key, load)
	} else {
		out, err = load()
	}
	if err != nil {
		return false, zero, err
	}
	res := out.(invokeResult[T])
	if !res.found {
		return false, zero, nil
	}
	return true, res.val, nil
}
