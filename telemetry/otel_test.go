package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewExportsSpans(t *testing.T) {
	var posts atomic.Int32
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			posts.Add(1)
			auth.Store(r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	shutdown, err := New(context.Background(), srv.URL, "secret", "provision-test")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "cache.get")
	span.End()
	shutdown()

	assert.GreaterOrEqual(t, posts.Load(), int32(1))
	assert.Equal(t, "Bearer secret", auth.Load())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "redis://localhost:4318", "", "provision-test")
	assert.Error(t, err)

	_, err = New(context.Background(), "://nope", "", "provision-test")
	assert.Error(t, err)
}
