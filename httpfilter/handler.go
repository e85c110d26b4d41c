package httpfilter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/OpenFluxGate/fluxgate/limiter"
	"github.com/OpenFluxGate/fluxgate/rules"
)

// Decision is a handler verdict. Unknown values use sentinels so the
// filter can omit the corresponding headers: Limit 0, Remaining -1,
// ResetSeconds 0.
type Decision struct {
	Allowed          bool         `json:"allowed"`
	Limit            int64        `json:"limit,omitempty"`
	Remaining        int64        `json:"remaining"`
	RetryAfterMillis int64        `json:"retryAfterMillis,omitempty"`
	ResetSeconds     int64        `json:"resetSeconds,omitempty"`
	Policy           rules.Policy `json:"policy,omitempty"`
}

// Handler decides the fate of one request. The filter dispatches through
// this abstraction so enforcement can run in-process or on a centralized
// service.
type Handler interface {
	Check(ctx context.Context, reqCtx rules.RequestContext, ruleSetID string) (Decision, error)
}

// Checker is the in-process enforcement entry point; the engine satisfies
// it.
type Checker interface {
	Check(ctx context.Context, ruleSetID string, reqCtx rules.RequestContext, permits int64) (limiter.Result, error)
}

// EngineHandler dispatches to an in-process engine.
type EngineHandler struct {
	engine Checker
}

func NewEngineHandler(engine Checker) *EngineHandler {
	return &EngineHandler{engine: engine}
}

func (h *EngineHandler) Check(ctx context.Context, reqCtx rules.RequestContext, ruleSetID string) (Decision, error) {
	result, err := h.engine.Check(ctx, ruleSetID, reqCtx, 1)
	if err != nil {
		return Decision{}, err
	}
	return decisionFromResult(result), nil
}

func decisionFromResult(result limiter.Result) Decision {
	d := Decision{
		Allowed:          result.Allowed,
		Remaining:        result.Remaining,
		RetryAfterMillis: result.RetryAfterMillis(),
		Policy:           result.Policy,
	}
	if result.MatchedRule != nil {
		d.Limit = result.MatchedBand.Capacity
	}
	if result.ResetTimeMillis > 0 {
		d.ResetSeconds = (result.ResetTimeMillis + 999) / 1000
	}
	return d
}

// RemoteHandler dispatches to a centralized rate-limit service over HTTP.
type RemoteHandler struct {
	url    string
	client *http.Client
}

type remoteRequest struct {
	RuleSetID string            `json:"ruleSetId"`
	ClientIP  string            `json:"clientIp,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	APIKey    string            `json:"apiKey,omitempty"`
	Endpoint  string            `json:"endpoint"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
}

func NewRemoteHandler(url string, timeout time.Duration) *RemoteHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteHandler{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (h *RemoteHandler) Check(ctx context.Context, reqCtx rules.RequestContext, ruleSetID string) (Decision, error) {
	payload, err := json.Marshal(remoteRequest{
		RuleSetID: ruleSetID,
		ClientIP:  reqCtx.ClientIP,
		UserID:    reqCtx.UserID,
		APIKey:    reqCtx.APIKey,
		Endpoint:  reqCtx.Endpoint,
		Method:    reqCtx.Method,
		Headers:   reqCtx.Headers,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to encode rate limit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to build rate limit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Decision{}, fmt.Errorf("rate limit service returned status %d", resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("failed to decode rate limit response: %w", err)
	}
	return decision, nil
}
