package anomaly

import (
	"sync"

	"github.com/gammazero/deque"
)

// History retains the most recent alerts for the observability endpoint's
// /alerts listing, bounded so memory doesn't grow unboundedly under a
// sustained incident.
type History struct {
	mu       sync.Mutex
	alerts   deque.Deque[Alert]
	capacity int
}

// NewHistory constructs a History retaining at most capacity alerts.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1000
	}
	return &History{capacity: capacity}
}

// Record appends alert, evicting the oldest entry if at capacity.
func (h *History) Record(alert Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts.PushBack(alert)
	for h.alerts.Len() > h.capacity {
		h.alerts.PopFront()
	}
}

// Recent returns up to limit of the most recently recorded alerts, newest
// last. severity, if non-empty, filters to that severity only.
func (h *History) Recent(limit int, severity Severity) []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()

	var matched []Alert
	for i := 0; i < h.alerts.Len(); i++ {
		a := h.alerts.At(i)
		if severity != "" && a.Severity != severity {
			continue
		}
		matched = append(matched, a)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
