package cache

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidArgument is returned for caller input the cache cannot act on:
	// nil key segments, nil values, empty or malformed patterns.
	ErrInvalidArgument = errors.New("cache: invalid argument")

	// ErrUnsupported is returned when a backend cannot perform an operation,
	// such as regular expression matching on Redis.
	ErrUnsupported = errors.New("cache: operation not supported")

	// ErrUnknownHandlerType is returned by a Registry asked to build a handler
	// type it has no factory for.
	ErrUnknownHandlerType = errors.New("cache: unknown handler type")
)

func invalidArgument(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}

func unsupported(handler, op string) error {
	return errors.Wrapf(ErrUnsupported, "%s does not support %s", handler, op)
}
