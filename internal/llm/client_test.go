package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/scope3-agent/backend/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unavailableServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	srv, hits := unavailableServer(t)
	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})

	_, err := c.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrGeneration)
	assert.Equal(t, int32(3), hits.Load())
}

func TestSingleAttemptMakesOneCall(t *testing.T) {
	srv, hits := unavailableServer(t)
	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})

	_, err := c.SingleAttempt().Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrGeneration)
	assert.Equal(t, int32(1), hits.Load())

	assert.Equal(t, 3, c.retryConfig.MaxAttempts)
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})
	_, err := c.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
