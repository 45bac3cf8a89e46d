package invoker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-hq/weave/internal/core"
	"github.com/weave-hq/weave/internal/invoker"
)

func TestHTTPInvokeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/actions/slack/send_message/execute", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "conn-1", body["connection_id"])
		assert.NotEmpty(t, body["idempotency_key"])

		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"ts": "123.456"}})
	}))
	defer srv.Close()

	h := invoker.NewHTTP(srv.URL, "key-1")
	result, err := h.Invoke(context.Background(), core.InvokeRequest{
		Tool: "slack", Action: "send_message", ConnectionID: "conn-1",
		Arguments:      map[string]any{"channel": "C1"},
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ts": "123.456"}, result)
}

func TestHTTPInvokeClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retriable bool
	}{
		{"rate limit", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			h := invoker.NewHTTP(srv.URL, "")
			_, err := h.Invoke(context.Background(), core.InvokeRequest{Tool: "t", Action: "a"})
			require.Error(t, err)
			assert.Equal(t, tc.retriable, core.IsRetriable(err))
		})
	}
}

func TestDryRunEchoesArguments(t *testing.T) {
	result, err := invoker.DryRun{}.Invoke(context.Background(), core.InvokeRequest{
		Tool: "slack", Action: "send_message",
		Arguments: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, result["dry_run"])
	assert.Equal(t, map[string]any{"text": "hi"}, result["arguments"])
}
