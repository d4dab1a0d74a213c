package cache

import (
	"encoding/json"
	"strings"

	"github.com/agentuity/go-provision/compress"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns values into the bytes stored by serializing backends.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackCodec is the default codec. Struct fields must be exported to
// survive a round trip; use msgpack struct tags to control names.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string                       { return "msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// JSONCodec stores values as JSON documents, readable by non-Go consumers.
type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// GzipCodec compresses the output of another codec. Uncompressed payloads
// are still readable so compression can be enabled on a populated store.
type GzipCodec struct {
	Codec Codec
}

func (c GzipCodec) inner() Codec {
	if c.Codec == nil {
		return MsgpackCodec{}
	}
	return c.Codec
}

func (c GzipCodec) Name() string { return c.inner().Name() + "+gzip" }

func (c GzipCodec) Marshal(v any) ([]byte, error) {
	data, err := c.inner().Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress.Gzip(data)
}

func (c GzipCodec) Unmarshal(data []byte, v any) error {
	if compress.IsGzip(data) {
		raw, err := compress.Gunzip(data)
		if err != nil {
			return err
		}
		data = raw
	}
	return c.inner().Unmarshal(data, v)
}

// CodecByName resolves a codec from its configuration name.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "msgpack":
		return MsgpackCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	}
	return nil, invalidArgument("unknown codec %q", name)
}
