package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgemesh/core/pkg/correlation"
)

func TestWebSocketEchoesEnvelopeWithStableCorrelationID(t *testing.T) {
	mgr := correlation.NewManager(context.Background(), correlation.DefaultStoreConfig())
	router := NewRouter(Deps{Correlation: mgr})

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var first, second wsEnvelope
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first envelope failed: %v", err)
	}
	if first.Payload != "hello" || first.CorrelationID == "" {
		t.Fatalf("unexpected first envelope: %+v", first)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("world")); err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second envelope failed: %v", err)
	}

	if second.CorrelationID != first.CorrelationID {
		t.Fatalf("expected the same correlation ID across frames, got %q then %q", first.CorrelationID, second.CorrelationID)
	}
}

func TestWebSocketWithoutCorrelationManagerReturns503(t *testing.T) {
	router := NewRouter(Deps{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %+v", resp)
	}
}
