package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/shared/logger"
)

func newTestClient(url string, cfg Config) *Client {
	cfg.BaseURL = url
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 2 * time.Millisecond
	return NewClient(cfg, logger.NewNop().Logger)
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func TestClient_Complete(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(completionBody("  {\"status\":\"human\"}  ")))
	}))
	defer server.Close()

	client := newTestClient(server.URL+"/v1/", Config{APIKey: "default-key", Temperature: 0.1})

	out, err := client.Complete(context.Background(), CompletionRequest{
		Credential: "tenant-key",
		Model:      "gpt-4o-mini",
		System:     "sys",
		User:       "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"status":"human"}`, out)
	assert.Equal(t, "Bearer tenant-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, "system", gotBody.Messages[0].Role)
	assert.Equal(t, "hello", gotBody.Messages[1].Content)

	_, err = client.Complete(context.Background(), CompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer default-key", gotAuth)
}

func TestClient_Complete_ImageParts(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(completionBody("{}")))
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{})
	_, err := client.Complete(context.Background(), CompletionRequest{User: "look", ImageDataURL: "data:image/png;base64,AAAA"})
	require.NoError(t, err)

	messages := raw["messages"].([]any)
	parts := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, "data:image/png;base64,AAAA", image["image_url"].(map[string]any)["url"])
}

func TestClient_Complete_Failures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantHits      int32
		wantTransient bool
	}{
		{name: "client error is permanent", status: http.StatusUnauthorized, body: `{"error":"bad key"}`, wantHits: 1},
		{name: "server error retried then transient", status: http.StatusBadGateway, wantHits: 2, wantTransient: true},
		{name: "rate limited retried then transient", status: http.StatusTooManyRequests, wantHits: 2, wantTransient: true},
		{name: "no choices is permanent", status: http.StatusOK, body: `{"choices":[]}`, wantHits: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(server.URL, Config{RetryMax: 1})
			_, err := client.Complete(context.Background(), CompletionRequest{})
			require.Error(t, err)
			assert.Equal(t, tt.wantHits, hits.Load())
			assert.Equal(t, tt.wantTransient, domain.IsTransient(err))
			if !tt.wantTransient {
				assert.ErrorIs(t, err, domain.ErrPermanentJobFailure)
			}
		})
	}
}

func TestClient_Complete_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{BreakerFailures: 2, BreakerTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), CompletionRequest{})
		require.True(t, domain.IsTransient(err))
	}
	require.Equal(t, int32(2), hits.Load())

	_, err := client.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Complete_PermanentErrorsKeepBreakerClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL, Config{BreakerFailures: 1})
	for i := 0; i < 3; i++ {
		_, err := client.Complete(context.Background(), CompletionRequest{})
		require.ErrorIs(t, err, domain.ErrPermanentJobFailure)
	}
	assert.Equal(t, gobreaker.StateClosed, client.breaker.State())
}
