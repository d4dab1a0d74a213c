package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Configuration describes one handler. Options are read once, when the
// handler is built.
type Configuration struct {
	Name           string         `yaml:"name" json:"name"`
	Type           string         `yaml:"type" json:"type"`
	Prefix         string         `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Separator      string         `yaml:"separator,omitempty" json:"separator,omitempty"`
	ExpireSchedule string         `yaml:"expire_schedule,omitempty" json:"expire_schedule,omitempty"`
	Options        map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// File is a configuration file listing the tiers of a collection in order.
type File struct {
	Handlers     []Configuration `yaml:"handlers" json:"handlers"`
	ResultPolicy string          `yaml:"result_policy,omitempty" json:"result_policy,omitempty"`
}

var (
	// ErrConfigNotFound is returned by LoadFile when the file does not exist.
	ErrConfigNotFound = errors.New("cache: configuration file not found")
	// ErrNoHandlers is returned when a configuration lists no handlers.
	ErrNoHandlers = errors.New("cache: configuration has no handlers")
)

// LoadFile reads a YAML configuration file.
func LoadFile(fn string) (*File, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrConfigNotFound, "%s", fn)
		}
		return nil, errors.Wrapf(err, "failed to read configuration file: %s", fn)
	}
	f, err := ParseFile(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode configuration file: %s", fn)
	}
	return f, nil
}

// ParseFile decodes and validates a YAML configuration document.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every handler has a type and a unique name.
func (f *File) Validate() error {
	if len(f.Handlers) == 0 {
		return ErrNoHandlers
	}
	names := make(map[string]bool, len(f.Handlers))
	for i, h := range f.Handlers {
		if h.Type == "" {
			return invalidArgument("handler at position %d is missing a type", i)
		}
		name := h.HandlerName()
		if names[name] {
			return invalidArgument("duplicate handler name '%s'", name)
		}
		names[name] = true
	}
	if _, err := ParseResultPolicy(f.ResultPolicy); err != nil {
		return err
	}
	return nil
}

// ParseResultPolicy parses "last", "all" or "any". Empty selects LastTier.
func ParseResultPolicy(s string) (ResultPolicy, error) {
	switch s {
	case "", "last":
		return LastTier, nil
	case "all":
		return AllTiers, nil
	case "any":
		return AnyTier, nil
	}
	return LastTier, invalidArgument("unknown result policy %q", s)
}

// HandlerName returns the configured name, or the type when unnamed.
func (c Configuration) HandlerName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}

// String returns the option as a string.
func (c Configuration) String(key string) (string, bool) {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// Bool returns the option as a bool. Strings are parsed with strconv.
func (c Configuration) Bool(key string) (bool, bool, error) {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return false, false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, true, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, true, invalidArgument("option %s: %q is not a boolean", key, b)
		}
		return parsed, true, nil
	}
	return false, true, invalidArgument("option %s: %T is not a boolean", key, v)
}

// Int returns the option as an int.
func (c Configuration) Int(key string) (int, bool, error) {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		return int(n), true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false, invalidArgument("option %s: %q is not a number", key, n)
		}
		return i, true, nil
	}
	return 0, false, invalidArgument("option %s: unexpected type %T", key, v)
}

// Duration returns the option as a duration. Strings accept day and week
// units ("1d", "2w3d"); bare numbers are seconds.
func (c Configuration) Duration(key string) (time.Duration, bool, error) {
	v, ok := c.Options[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	if s, ok := v.(string); ok {
		d, err := str2duration.ParseDuration(s)
		if err != nil {
			return 0, false, invalidArgument("option %s: invalid duration %q", key, s)
		}
		return d, true, nil
	}
	n, ok, err := c.Int(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return time.Duration(n) * time.Second, true, nil
}

// HandlerOptions converts the common configuration fields into Options.
func (c Configuration) HandlerOptions() ([]Option, error) {
	opts := []Option{WithName(c.HandlerName()), WithPrefix(c.Prefix), WithSeparator(c.Separator)}
	if c.ExpireSchedule != "" {
		sched, err := ParseSchedule(c.ExpireSchedule)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSchedule(sched))
	}
	name, _ := c.String("codec")
	codec, err := CodecByName(name)
	if err != nil {
		return nil, err
	}
	gz, _, err := c.Bool("compress")
	if err != nil {
		return nil, err
	}
	if gz {
		codec = GzipCodec{Codec: codec}
	}
	opts = append(opts, WithCodec(codec))
	durations := map[string]func(time.Duration) Option{
		"query_timeout":     WithQueryTimeout,
		"expiry_check":      WithExpiryCheck,
		"index_maintenance": WithIndexMaintenance,
	}
	for key, with := range durations {
		d, ok, err := c.Duration(key)
		if err != nil {
			return nil, err
		}
		if ok {
			opts = append(opts, with(d))
		}
	}
	return opts, nil
}
