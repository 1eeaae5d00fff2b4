package observability

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEnvelope is the per-message wire shape the demo echoes back. Every
// frame on the connection carries the same correlation ID that FromWebSocket
// minted at upgrade time, proving the ID survives the connection's whole
// lifetime rather than being reissued per frame the way an HTTP request
// would mint a fresh one per call.
type wsEnvelope struct {
	CorrelationID string `json:"correlation_id"`
	TraceID       string `json:"trace_id"`
	Payload       string `json:"payload"`
}

// ws upgrades to a WebSocket and echoes every received frame back wrapped
// in a wsEnvelope, demonstrating request_type=websocket correlation propagation
// over a long-lived connection.
func (h *handlers) ws(w http.ResponseWriter, r *http.Request) {
	if h.deps.Correlation == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "correlation tracking not enabled"})
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	root := h.deps.Correlation.FromWebSocket(r)

	done := make(chan struct{})
	go h.wsPingLoop(conn, done)
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env := wsEnvelope{CorrelationID: root.CorrelationID, TraceID: root.TraceID, Payload: string(payload)}
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
}

func (h *handlers) wsPingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
