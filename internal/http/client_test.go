package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Get_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.Get(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", string(resp.Body))
}

func TestClient_Post_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	resp, err := client.Post(context.Background(), server.URL, "application/json", []byte(`{"test":true}`))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_Put_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	resp, err := NewClient().Put(context.Background(), server.URL, "text/plain", []byte("up 1\n"))

	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestClient_UserAgent(t *testing.T) {
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := NewClient().Get(context.Background(), server.URL)
	require.NoError(t, err)
	require.NoError(t, NewClient(WithUserAgent("probe/1")).CheckConnectivity(context.Background(), server.URL))

	require.Len(t, got, 2)
	assert.Contains(t, got[0], "fleet-backup/")
	assert.Equal(t, "probe/1", got[1])
}

func TestClient_Retry_Success(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt := atomic.AddInt32(&attempts, 1)
		if attempt < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(WithRetryConfig(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	}))

	resp, err := client.Get(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_Retry_Exhausted(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(WithRetryConfig(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	}))

	resp, err := client.Get(context.Background(), server.URL)

	// Should return the last response, not an error
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_Retry_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(WithRetryConfig(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_NoRetry_ClientError(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(WithRetryConfig(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	}))

	resp, err := client.Get(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	// Should not retry on 4xx errors
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClient_RetryAfter(t *testing.T) {
	client := NewClient(WithRetryConfig(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Second,
	}))

	h := http.Header{}
	assert.Equal(t, 2*time.Second, client.retryAfter(h, 2))

	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, client.retryAfter(h, 1))

	h.Set("Retry-After", "120")
	assert.Equal(t, 5*time.Second, client.retryAfter(h, 1))

	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Equal(t, time.Second, client.retryAfter(h, 1))
}

func TestClient_Post_RetriesSendSameBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(WithRetryConfig(RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
	}))
	resp, err := client.Post(context.Background(), server.URL, "application/json", []byte(`{"title":"t"}`))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"title":"t"}`, `{"title":"t"}`}, bodies)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(
		WithTimeout(50*time.Millisecond),
		WithRetryConfig(RetryConfig{MaxAttempts: 1}),
	)
	_, err := client.Get(context.Background(), server.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 1 attempts")
}

func TestClient_CheckConnectivity_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	err := client.CheckConnectivity(context.Background(), server.URL)

	assert.NoError(t, err)
}

func TestClient_CheckConnectivity_Failure(t *testing.T) {
	client := NewClient()
	err := client.CheckConnectivity(context.Background(), "http://localhost:1")

	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	client := NewClient(WithRetryConfig(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
	}))

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0 = 1
		{2, 2 * time.Second},  // 1 * 2^1 = 2
		{3, 4 * time.Second},  // 1 * 2^2 = 4
		{4, 8 * time.Second},  // 1 * 2^3 = 8
		{5, 10 * time.Second}, // 1 * 2^4 = 16, capped at 10
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			assert.Equal(t, tt.expected, client.backoff(tt.attempt))
		})
	}
}

func TestRetryable(t *testing.T) {
	retry := []int{
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}

	noRetry := []int{
		http.StatusOK,
		http.StatusCreated,
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
	}

	for _, code := range retry {
		assert.True(t, retryable(code), "expected %d to be retryable", code)
	}

	for _, code := range noRetry {
		assert.False(t, retryable(code), "expected %d to not be retryable", code)
	}
}
