// Package invoker provides the runtime implementations of the tool invoker:
// an HTTP client for a tool execution relay and a dry-run stand-in for local
// development.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/weave-hq/weave/internal/cmn/logger"
	"github.com/weave-hq/weave/internal/cmn/logger/tag"
	"github.com/weave-hq/weave/internal/core"
)

// HTTP invokes actions through a tool execution relay:
// POST {endpoint}/actions/{tool}/{action}/execute.
type HTTP struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

var _ core.ToolInvoker = (*HTTP)(nil)

// NewHTTP creates an HTTP invoker. Per-request timeouts come from the
// request context, not the client.
func NewHTTP(endpoint, apiKey string) *HTTP {
	return &HTTP{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{},
	}
}

type executeBody struct {
	ConnectionID   string         `json:"connection_id,omitempty"`
	Arguments      map[string]any `json:"arguments"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

type executeResponse struct {
	Data  map[string]any `json:"data"`
	Error string         `json:"error,omitempty"`
}

// Invoke executes one action. Rate limits and 5xx responses come back as
// retriable errors, other 4xx as fatal.
func (h *HTTP) Invoke(ctx context.Context, req core.InvokeRequest) (map[string]any, error) {
	body, err := json.Marshal(executeBody{
		ConnectionID:   req.ConnectionID,
		Arguments:      req.Arguments,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, core.NewFatalError("encoding arguments: %v", err)
	}

	url := fmt.Sprintf("%s/actions/%s/%s/execute", h.endpoint, req.Tool, req.Action)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewFatalError("building request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, core.NewRetriableError("executing %s.%s: %v", req.Tool, req.Action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, core.NewRetriableError("reading response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &core.InvocationError{
			Kind: core.RetriableError, Status: resp.StatusCode,
			Message: responseBrief(raw),
		}
	case resp.StatusCode >= 400:
		return nil, &core.InvocationError{
			Kind: core.FatalError, Status: resp.StatusCode,
			Message: responseBrief(raw),
		}
	}

	var parsed executeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, core.NewRetriableError("decoding response: %v", err)
	}
	if parsed.Error != "" {
		return nil, core.NewFatalError("%s", parsed.Error)
	}
	if parsed.Data == nil {
		parsed.Data = map[string]any{}
	}
	return parsed.Data, nil
}

func responseBrief(raw []byte) string {
	const max = 256
	s := string(raw)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

// DryRun logs every invocation and echoes the rendered arguments back as
// the result. It backs local runs when no relay endpoint is configured.
type DryRun struct{}

var _ core.ToolInvoker = DryRun{}

// Invoke implements core.ToolInvoker.
func (DryRun) Invoke(ctx context.Context, req core.InvokeRequest) (map[string]any, error) {
	logger.Info(ctx, "Dry-run invocation",
		tag.Tool(req.Tool), tag.Action(req.Action), tag.IdemKey(req.IdempotencyKey))
	return map[string]any{
		"dry_run":     true,
		"tool":        req.Tool,
		"action":      req.Action,
		"arguments":   req.Arguments,
		"executed_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
