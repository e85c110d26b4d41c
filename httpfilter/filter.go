// Package httpfilter intercepts HTTP requests and enforces a rule set
// before the wrapped handler runs. The filter is an availability feature,
// not a security boundary: any unexpected enforcement failure admits the
// request.
package httpfilter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/OpenFluxGate/fluxgate/rules"
)

// ContextCustomizer may override any field of the request context after
// the defaults are extracted. Customizers run in registration order.
type ContextCustomizer func(reqCtx *rules.RequestContext, r *http.Request)

type filterMarker struct{}

// Filter wraps an http.Handler with rate limiting.
type Filter struct {
	handler     Handler
	config      Config
	customizers []ContextCustomizer
	waitSem     *semaphore.Weighted
	log         zerolog.Logger
}

type Option func(*Filter)

func WithCustomizer(c ContextCustomizer) Option {
	return func(f *Filter) {
		f.customizers = append(f.customizers, c)
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(f *Filter) {
		f.log = log
	}
}

func New(handler Handler, config Config, opts ...Option) *Filter {
	f := &Filter{
		handler: handler,
		config:  config.withDefaults(),
		log:     zerolog.Nop(),
	}
	f.waitSem = semaphore.NewWeighted(f.config.WaitForRefill.MaxConcurrentWaits)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Wrap returns the rate-limited handler chain.
func (f *Filter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Nested dispatches must not double-charge the request.
		if r.Context().Value(filterMarker{}) != nil {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		if !f.pathApplies(path) {
			next.ServeHTTP(w, r)
			return
		}

		if f.config.RuleSetID == "" {
			f.log.Warn().Str("path", path).Msg("no rule set configured, rate limiting skipped")
			next.ServeHTTP(w, r)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), filterMarker{}, true))
		reqCtx := f.buildContext(r)

		decision, err := f.handler.Check(r.Context(), reqCtx, f.config.RuleSetID)
		if err != nil {
			// Fail open: enforcement trouble must not take the service down.
			f.log.Error().Err(err).
				Str("rule_set", f.config.RuleSetID).
				Str("path", path).
				Msg("rate limit check failed, admitting request")
			next.ServeHTTP(w, r)
			return
		}

		f.setHeaders(w, decision)

		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		if decision.Policy == rules.PolicyWaitForRefill && f.config.WaitForRefill.Enabled {
			f.waitAndRetry(w, r, next, reqCtx, decision)
			return
		}

		f.reject(w, decision)
	})
}

func (f *Filter) pathApplies(path string) bool {
	for _, pattern := range f.config.ExcludePatterns {
		if MatchPattern(pattern, path) {
			return false
		}
	}
	if len(f.config.IncludePatterns) == 0 {
		return true
	}
	for _, pattern := range f.config.IncludePatterns {
		if MatchPattern(pattern, path) {
			return true
		}
	}
	return false
}

func (f *Filter) buildContext(r *http.Request) rules.RequestContext {
	reqCtx := rules.RequestContext{
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		Headers:    make(map[string]string, len(r.Header)),
		Attributes: make(map[string]any),
	}

	for name := range r.Header {
		reqCtx.Headers[name] = r.Header.Get(name)
	}

	reqCtx.ClientIP = f.clientIP(r)
	reqCtx.UserID = r.Header.Get(f.config.UserIDHeader)
	reqCtx.APIKey = r.Header.Get(f.config.APIKeyHeader)

	for _, customize := range f.customizers {
		customize(&reqCtx, r)
	}
	return reqCtx
}

func (f *Filter) clientIP(r *http.Request) string {
	if f.config.TrustClientIPHeader {
		if forwarded := r.Header.Get(f.config.ClientIPHeader); forwarded != "" {
			// First hop of a comma-separated chain is the original client.
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (f *Filter) setHeaders(w http.ResponseWriter, decision Decision) {
	if !f.config.IncludeHeaders {
		return
	}
	if decision.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	}
	if decision.Remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	}
	if decision.ResetSeconds > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetSeconds, 10))
	}
}

func (f *Filter) waitAndRetry(w http.ResponseWriter, r *http.Request, next http.Handler, reqCtx rules.RequestContext, decision Decision) {
	maxWaitMillis := f.config.WaitForRefill.MaxWait.Milliseconds()
	if decision.RetryAfterMillis > maxWaitMillis {
		f.reject(w, decision)
		return
	}

	// Non-blocking acquire: when the local pool is saturated with
	// waiters, shed the request instead of queueing more.
	if !f.waitSem.TryAcquire(1) {
		f.reject(w, decision)
		return
	}
	defer f.waitSem.Release(1)

	timer := time.NewTimer(time.Duration(decision.RetryAfterMillis) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.Context().Done():
		f.reject(w, decision)
		return
	}

	retried, err := f.handler.Check(r.Context(), reqCtx, f.config.RuleSetID)
	if err != nil {
		f.log.Error().Err(err).
			Str("rule_set", f.config.RuleSetID).
			Msg("rate limit recheck failed, admitting request")
		next.ServeHTTP(w, r)
		return
	}

	f.setHeaders(w, retried)
	if retried.Allowed {
		next.ServeHTTP(w, r)
		return
	}
	f.reject(w, retried)
}

func (f *Filter) reject(w http.ResponseWriter, decision Decision) {
	retrySeconds := (decision.RetryAfterMillis + 999) / 1000
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retrySeconds, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	fmt.Fprintf(w, `{"error":"Rate limit exceeded","retryAfter":%d}`, retrySeconds)
}
