package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/observerproto"
	"tradepost.ai/internal/sim/world"
)

func startWorld(t *testing.T) *world.World {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "obs", TickRateHz: 50}, ledger.NewMemory(nil))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHandler_StreamsTicks(t *testing.T) {
	w := startWorld(t)
	s := NewServer(w, nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first, second observerproto.TickMsg
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != observerproto.TypeTick || second.Tick <= first.Tick {
		t.Fatalf("ticks: %+v then %+v", first, second)
	}
}

func TestWSHandler_RejectsWrongFirstMessage(t *testing.T) {
	w := startWorld(t)
	srv := httptest.NewServer(NewServer(w, nil).WSHandler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("want policy violation close, got %v", err)
	}
}

func TestBootstrapHandler(t *testing.T) {
	w := startWorld(t)
	rec := httptest.NewRecorder()
	NewServer(w, nil).BootstrapHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "obs" || resp.WorldParams.TickRateHz != 50 || resp.ProtocolVersion != observerproto.Version {
		t.Fatalf("bootstrap: %+v", resp)
	}
}
