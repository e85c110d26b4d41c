package httpfilter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenFluxGate/fluxgate/limiter"
	"github.com/OpenFluxGate/fluxgate/rules"
)

type fakeChecker struct {
	result    limiter.Result
	ruleSetID string
	permits   int64
}

func (c *fakeChecker) Check(ctx context.Context, ruleSetID string, reqCtx rules.RequestContext, permits int64) (limiter.Result, error) {
	c.ruleSetID = ruleSetID
	c.permits = permits
	return c.result, nil
}

func TestEngineHandler(t *testing.T) {
	t.Run("allowed result", func(t *testing.T) {
		checker := &fakeChecker{result: limiter.Result{
			Allowed:         true,
			Remaining:       42,
			ResetTimeMillis: 1_700_000_000_500,
		}}
		h := NewEngineHandler(checker)

		decision, err := h.Check(context.Background(), rules.RequestContext{}, "api-limits")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, int64(42), decision.Remaining)
		assert.Equal(t, int64(0), decision.Limit, "no matched rule means no limit")
		assert.Equal(t, int64(1_700_000_001), decision.ResetSeconds, "reset rounds up to whole seconds")
		assert.Equal(t, "api-limits", checker.ruleSetID)
		assert.Equal(t, int64(1), checker.permits)
	})

	t.Run("rejected result carries the matched band capacity", func(t *testing.T) {
		matched := rules.Rule{ID: "r1"}
		checker := &fakeChecker{result: limiter.Result{
			Allowed:     false,
			MatchedRule: &matched,
			MatchedBand: rules.Band{Window: time.Minute, Capacity: 100},
			WaitNanos:   (1500 * time.Millisecond).Nanoseconds(),
			Policy:      rules.PolicyWaitForRefill,
		}}
		h := NewEngineHandler(checker)

		decision, err := h.Check(context.Background(), rules.RequestContext{}, "api-limits")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, int64(100), decision.Limit)
		assert.Equal(t, int64(1500), decision.RetryAfterMillis)
		assert.Equal(t, rules.PolicyWaitForRefill, decision.Policy)
	})
}

func TestRemoteHandler(t *testing.T) {
	t.Run("posts the request context and decodes the decision", func(t *testing.T) {
		var received remoteRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			json.NewEncoder(w).Encode(Decision{Allowed: true, Remaining: 5})
		}))
		defer server.Close()

		h := NewRemoteHandler(server.URL, time.Second)
		decision, err := h.Check(context.Background(), rules.RequestContext{
			ClientIP: "203.0.113.10",
			Endpoint: "/api/orders",
			Method:   http.MethodGet,
		}, "api-limits")
		require.NoError(t, err)

		assert.True(t, decision.Allowed)
		assert.Equal(t, int64(5), decision.Remaining)
		assert.Equal(t, "api-limits", received.RuleSetID)
		assert.Equal(t, "203.0.113.10", received.ClientIP)
		assert.Equal(t, "/api/orders", received.Endpoint)
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		h := NewRemoteHandler(server.URL, time.Second)
		_, err := h.Check(context.Background(), rules.RequestContext{}, "api-limits")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})

	t.Run("unreachable service is an error", func(t *testing.T) {
		h := NewRemoteHandler("http://127.0.0.1:1/check", 100*time.Millisecond)
		_, err := h.Check(context.Background(), rules.RequestContext{}, "api-limits")
		require.Error(t, err)
	})
}
