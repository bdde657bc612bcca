package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_ReturnsStatusAndSendsBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProbeClient(5*time.Second, zerolog.Nop())
	status, err := p.Probe(context.Background(), "stripe", srv.URL, map[string]string{"api_key": "sk_test_abc"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bearer sk_test_abc", gotAuth)
}

func TestProbe_NoCredentialTokenOmitsHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewProbeClient(5*time.Second, zerolog.Nop())
	status, err := p.Probe(context.Background(), "stripe", srv.URL, map[string]string{"other": "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Empty(t, gotAuth)
}

func TestProbe_TransportErrorSurfaces(t *testing.T) {
	p := NewProbeClient(time.Second, zerolog.Nop())
	_, err := p.Probe(context.Background(), "stripe", "http://127.0.0.1:1", nil)
	require.Error(t, err)
}

func TestProbe_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	p := NewProbeClient(time.Second, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := p.Probe(ctx, "flaky", "http://127.0.0.1:1", nil)
		require.Error(t, err)
	}

	// Breaker for this service is now open; a healthy endpoint for a
	// different service is unaffected.
	_, err := p.Probe(ctx, "flaky", "http://127.0.0.1:1", nil)
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	status, err := p.Probe(ctx, "stable", srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}
