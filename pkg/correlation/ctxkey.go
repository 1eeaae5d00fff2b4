package correlation

import gocontext "context"

type ctxKey struct{}

// WithContext attaches c to ctx, the Go-idiomatic replacement for the
// thread-local contextvars the original tracker used.
func WithContext(ctx gocontext.Context, c *Context) gocontext.Context {
	return gocontext.WithValue(ctx, ctxKey{}, c)
}

// FromContext retrieves the Context attached by WithContext, reporting
// ok=false if ctx carries none.
func FromContext(ctx gocontext.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}

// IDFromContext is a convenience accessor for logging call sites that only
// need the correlation ID.
func IDFromContext(ctx gocontext.Context) string {
	if c, ok := FromContext(ctx); ok {
		return c.CorrelationID
	}
	return ""
}
