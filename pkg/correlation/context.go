// Package correlation tracks request identity across the coordinator's
// component chain: a correlation ID that threads through HTTP requests,
// WebSocket connections, and the background work they spawn, plus W3C Trace
// Context propagation so external traces line up with internal ones.
package correlation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Context carries everything needed to correlate one logical operation
// across components and, if it has children, back to its parent.
type Context struct {
	CorrelationID       string
	TraceID             string
	SpanID              string
	UserID              string
	RequestType         string
	ParentCorrelationID string
	SessionID           string
	ClientIP            string
	UserAgent           string
	CreatedAt           time.Time
	Metadata            map[string]string
}

// newID mints a correlation ID in the "corr_<16 hex>" shape.
func newID() string {
	return "corr_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// Open creates a root Context for a new inbound request, using id if
// non-empty (propagated from an upstream X-Correlation-Id / X-Request-Id
// header) or minting a fresh one otherwise.
func Open(id, requestType string) *Context {
	if id == "" {
		id = newID()
	}
	return &Context{
		CorrelationID: id,
		RequestType:   requestType,
		CreatedAt:     time.Now(),
		Metadata:      make(map[string]string),
	}
}

// Child derives a new Context for work spawned on behalf of parent (an
// async task, a downstream fan-out call), inheriting its user/session
// identity but minting a fresh correlation ID linked back via
// ParentCorrelationID.
func (c *Context) Child(operation, requestType string) *Context {
	child := &Context{
		CorrelationID:       newID(),
		TraceID:             c.TraceID,
		UserID:              c.UserID,
		RequestType:         requestType,
		ParentCorrelationID: c.CorrelationID,
		SessionID:           c.SessionID,
		ClientIP:            c.ClientIP,
		UserAgent:           c.UserAgent,
		CreatedAt:           time.Now(),
		Metadata:            map[string]string{"operation": operation, "parent_type": c.RequestType},
	}
	return child
}

// ToHeaders renders the context as the outbound header set a downstream
// call should carry.
func (c *Context) ToHeaders() map[string]string {
	headers := map[string]string{
		"X-Correlation-Id": c.CorrelationID,
		"X-Request-Type":    c.RequestType,
	}
	if c.TraceID != "" {
		headers["X-Trace-Id"] = c.TraceID
	}
	if c.SpanID != "" {
		headers["X-Span-Id"] = c.SpanID
	}
	if c.UserID != "" {
		headers["X-User-Id"] = c.UserID
	}
	if c.ParentCorrelationID != "" {
		headers["X-Parent-Correlation-Id"] = c.ParentCorrelationID
	}
	if c.SessionID != "" {
		headers["X-Session-Id"] = c.SessionID
	}
	return headers
}

// LogFields renders the context as structured fields for pkg/logging.
func (c *Context) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"correlation_id": c.CorrelationID,
		"trace_id":       c.TraceID,
		"span_id":        c.SpanID,
		"user_id":        c.UserID,
		"request_type":   c.RequestType,
		"session_id":     c.SessionID,
		"client_ip":      c.ClientIP,
	}
}
