package rules

// RequestContext carries the request identity and metadata a rule set is
// evaluated against. It is built once per request and never mutated by the
// enforcement path; customizers run before evaluation starts.
type RequestContext struct {
	ClientIP   string
	UserID     string
	APIKey     string
	Endpoint   string
	Method     string
	Headers    map[string]string
	Attributes map[string]any
}

// Header returns the named header value, or "" when absent.
func (c RequestContext) Header(name string) string {
	return c.Headers[name]
}

// Attribute returns the named attribute, or nil when absent.
func (c RequestContext) Attribute(name string) any {
	if c.Attributes == nil {
		return nil
	}
	return c.Attributes[name]
}
