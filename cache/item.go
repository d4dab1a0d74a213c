package cache

import (
	"time"
)

// Item is the envelope returned by every read. A miss is an Item with
// HasValue set to false, never a nil pointer.
type Item[T any] struct {
	Key      string
	Value    T
	Raw      any
	Expires  time.Time
	Handler  string
	HasValue bool

	codec Codec
}

// Empty returns the canonical miss for key.
func Empty[T any](key string) Item[T] {
	return Item[T]{Key: key}
}

// NewItem returns an item carrying a live value.
func NewItem[T any](key string, value T, expires time.Time) Item[T] {
	return Item[T]{Key: key, Value: value, Raw: value, Expires: expires, HasValue: true}
}

func encodedItem(key string, data []byte, codec Codec, expires time.Time, handler string) Item[any] {
	return Item[any]{Key: key, Raw: data, Expires: expires, Handler: handler, HasValue: true, codec: codec}
}

// Expirer is implemented by values that track their own expiry. Handlers
// stamp the write expiry onto such values and reads merge the envelope
// expiry into them.
type Expirer interface {
	Expiry() time.Time
	SetExpiry(t time.Time)
}

func expirerOf[T any](v *T) (Expirer, bool) {
	if e, ok := any(*v).(Expirer); ok {
		return e, true
	}
	if e, ok := any(v).(Expirer); ok {
		return e, true
	}
	return nil, false
}

// MergeExpire copies the envelope expiry onto a value implementing Expirer
// when the value has none of its own.
func MergeExpire[T any](item *Item[T]) {
	if !item.HasValue || item.Expires.IsZero() {
		return
	}
	e, ok := expirerOf(&item.Value)
	if !ok || isNil(e) {
		return
	}
	if e.Expiry().IsZero() {
		e.SetExpiry(item.Expires)
	}
}

// stampExpiry records a future write expiry on values that carry one.
func stampExpiry(val any, expires time.Time, now time.Time) {
	if e, ok := val.(Expirer); ok && !isNil(e) && expires.After(now) && !expires.Equal(NoExpiry) {
		e.SetExpiry(expires)
	}
}
