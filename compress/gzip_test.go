package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGunzip(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{
			name:    "empty input",
			data:    []byte{},
			wantErr: true,
		},
		{
			name:    "valid gzip data",
			data:    []byte{31, 139, 8, 0, 0, 0, 0, 0, 0, 255, 242, 72, 205, 201, 201, 87, 8, 207, 47, 202, 73, 1, 4, 0, 0, 255, 255, 86, 177, 23, 74, 11, 0, 0, 0},
			want:    []byte("Hello World"),
			wantErr: false,
		},
		{
			name:    "invalid gzip data",
			data:    []byte{1, 2, 3, 4},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Gunzip(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGzipRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("quarterly report "), 200)
	packed, err := Gzip(payload)
	require.NoError(t, err)
	assert.True(t, IsGzip(packed))
	assert.Less(t, len(packed), len(payload))

	out, err := Gunzip(packed)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestGzipLevel(t *testing.T) {
	_, err := GzipLevel([]byte("x"), 42)
	assert.Error(t, err)

	packed, err := GzipLevel([]byte("x"), 9)
	require.NoError(t, err)
	assert.True(t, IsGzip(packed))
	assert.False(t, IsGzip([]byte("x")))
}
