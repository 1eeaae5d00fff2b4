package correlation

import (
	"context"
	"net/http"
)

// Manager is the component-facing façade over context creation, storage,
// and W3C propagation.
type Manager struct {
	store *Store
}

// NewManager constructs a Manager backed by a Store started against ctx.
func NewManager(ctx context.Context, cfg StoreConfig) *Manager {
	return &Manager{store: NewStore(ctx, cfg)}
}

// FromRequest builds a root Context for an inbound HTTP request, extracting
// any propagated correlation/trace identifiers and storing the result.
func (m *Manager) FromRequest(r *http.Request) *Context {
	id := r.Header.Get("X-Correlation-Id")
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}

	_, traceID, spanID := ExtractTraceParent(r.Context(), r.Header)

	c := Open(id, "http")
	c.TraceID = traceID
	c.SpanID = spanID
	c.UserID = r.Header.Get("X-User-Id")
	c.SessionID = r.Header.Get("X-Session-Id")
	c.ParentCorrelationID = r.Header.Get("X-Parent-Correlation-Id")
	c.ClientIP = clientIP(r)
	c.UserAgent = r.Header.Get("User-Agent")
	c.Metadata["method"] = r.Method
	c.Metadata["path"] = r.URL.Path

	m.store.Put(c)
	return c
}

// FromWebSocket builds a root Context for an inbound WebSocket upgrade
// request, mirroring FromRequest but tagging the request type accordingly.
func (m *Manager) FromWebSocket(r *http.Request) *Context {
	c := m.FromRequest(r)
	c.RequestType = "websocket"
	m.store.Put(c)
	return c
}

// Spawn derives and stores a child Context for background work done on
// behalf of parent.
func (m *Manager) Spawn(parent *Context, operation, requestType string) *Context {
	child := parent.Child(operation, requestType)
	m.store.Put(child)
	return child
}

// Chain returns a correlation ID's ancestors, the context itself, and its
// direct children (not grandchildren), for the observability endpoint.
func (m *Manager) Chain(id string) []*Context {
	return m.store.Chain(id)
}

// ForTrace returns every stored context sharing a trace ID.
func (m *Manager) ForTrace(traceID string) []*Context {
	return m.store.ForTrace(traceID)
}

// ActiveCount reports how many correlation contexts are currently tracked.
func (m *Manager) ActiveCount() int {
	return m.store.Len()
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
