package service

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestWebhookNotifyPostsPayload(t *testing.T) {
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body.Store(string(raw))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewWebhookService()
	svc.Notify(server.URL, WebhookPayload{
		Event:       "processing.completed",
		JobID:       "a3d1e6bb-6f0f-4f6a-9c7e-2f1f3f1f9b10",
		DocumentRef: "d41b2c7a-0d9e-4b7d-8f3a-5a6b7c8d9e0f",
		Stage:       "COMPLETED",
		Progress:    100,
		Timestamp:   "2026-08-29T10:00:00Z",
	})

	raw, _ := body.Load().(string)
	require.NotEmpty(t, raw, "webhook endpoint never received a request")
	assert.Equal(t, "processing.completed", gjson.Get(raw, "event").String())
	assert.Equal(t, "a3d1e6bb-6f0f-4f6a-9c7e-2f1f3f1f9b10", gjson.Get(raw, "job_id").String())
	assert.Equal(t, "COMPLETED", gjson.Get(raw, "stage").String())
	assert.Equal(t, int64(100), gjson.Get(raw, "progress").Int())
	assert.Equal(t, "2026-08-29T10:00:00Z", gjson.Get(raw, "timestamp").String())
}

func TestWebhookNotifySkipsEmptyURL(t *testing.T) {
	svc := NewWebhookService()
	// Must be a no-op, not a panic or a request to a bogus target.
	svc.Notify("", WebhookPayload{Event: "processing.started"})
}

func TestWebhookNotifySwallowsDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewWebhookService()
	svc.Notify(server.URL, WebhookPayload{Event: "processing.failed", JobID: "job-1"})

	// Unreachable endpoint is equally non-fatal.
	svc.Notify("http://127.0.0.1:1/hook", WebhookPayload{Event: "processing.failed", JobID: "job-2"})
}
