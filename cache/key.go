package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultSeparator joins key segments when none is configured.
	DefaultSeparator = ":"

	// MaxSegmentLength is the longest segment, in characters, kept verbatim;
	// longer segments are replaced by their digest.
	MaxSegmentLength = 128

	// CompositeMarker splits a key into container and field.
	CompositeMarker = "#"

	separatorPlaceholder = "-"
)

// KeyBuilder constructs cache keys from ordered segments. It holds no state
// beyond its configuration.
type KeyBuilder struct {
	Prefix    string
	Separator string
}

func (b KeyBuilder) separator() string {
	if b.Separator == "" {
		return DefaultSeparator
	}
	return b.Separator
}

func (b KeyBuilder) segment(v any) string {
	s := fmt.Sprint(v)
	if utf8.RuneCountInString(s) > MaxSegmentLength {
		sum := sha256.Sum256([]byte(s))
		s = base64.StdEncoding.EncodeToString(sum[:])
	}
	// digests can contain '/', '+' and '=' too
	return strings.ReplaceAll(s, b.separator(), separatorPlaceholder)
}

// Build joins segments with the separator and prepends the prefix.
func (b KeyBuilder) Build(segments ...any) (string, error) {
	if len(segments) == 0 {
		return "", invalidArgument("cannot create key from zero segments")
	}
	sep := b.separator()
	parts := make([]string, 0, len(segments)+1)
	if b.Prefix != "" {
		parts = append(parts, b.Prefix)
	}
	for i, seg := range segments {
		if isNil(seg) {
			return "", invalidArgument("cannot create key from nil segment at position %d", i)
		}
		parts = append(parts, b.segment(seg))
	}
	key := strings.Join(parts, sep)
	if container, field, ok := SplitKey(key); ok {
		key = strings.TrimRight(container, sep) + CompositeMarker + strings.TrimLeft(field, sep)
	}
	return key, nil
}

// Key is the typed form of a possibly composite key.
type Key struct {
	Container string
	Field     string
}

// ParseKey splits key on the first composite marker.
func ParseKey(key string) Key {
	if container, field, ok := SplitKey(key); ok {
		return Key{Container: container, Field: field}
	}
	return Key{Container: key}
}

// IsComposite reports whether the key addresses a field inside a container.
func (k Key) IsComposite() bool {
	return k.Field != ""
}

func (k Key) String() string {
	if k.Field == "" {
		return k.Container
	}
	return k.Container + CompositeMarker + k.Field
}

// SplitKey splits a container#field key. ok is false for plain keys.
func SplitKey(key string) (container, field string, ok bool) {
	return strings.Cut(key, CompositeMarker)
}

// CompositeKey returns the key addressing field inside container.
func CompositeKey(container, field string) string {
	return container + CompositeMarker + field
}

// containerOf returns the deletion and expiry unit of key.
func containerOf(key string) string {
	if container, _, ok := SplitKey(key); ok {
		return container
	}
	return key
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
