package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecByName(t *testing.T) {
	for name, want := range map[string]string{"": "msgpack", "msgpack": "msgpack", "MsgPack": "msgpack", "json": "json"} {
		codec, err := CodecByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, codec.Name())
	}
	_, err := CodecByName("gob")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestJSONCodecIsReadable(t *testing.T) {
	data, err := JSONCodec{}.Marshal(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	var out map[string]int
	require.NoError(t, JSONCodec{}.Unmarshal(data, &out))
	assert.Equal(t, 1, out["a"])
}

func TestMsgpackCodecUsesTags(t *testing.T) {
	data, err := MsgpackCodec{}.Marshal(report{ID: 9, Title: "t"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, MsgpackCodec{}.Unmarshal(data, &out))
	assert.Contains(t, out, "id")
	assert.Contains(t, out, "title")
}

func TestGzipCodec(t *testing.T) {
	codec := GzipCodec{Codec: JSONCodec{}}
	assert.Equal(t, "json+gzip", codec.Name())
	assert.Equal(t, "msgpack+gzip", GzipCodec{}.Name())

	data, err := codec.Marshal(report{ID: 3, Title: "compressed"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, data[:2])

	var out report
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, "compressed", out.Title)

	// payloads written before compression was enabled stay readable
	plain, err := JSONCodec{}.Marshal(report{ID: 4})
	require.NoError(t, err)
	require.NoError(t, codec.Unmarshal(plain, &out))
	assert.Equal(t, 4, out.ID)
}
