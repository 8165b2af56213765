package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"campaign-dialer/internal/events"
)

func startStream(t *testing.T) (*events.Bus, *Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := events.NewBus()
	hub := NewHub(nil, nil)
	sub := bus.Subscribe(64)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx, sub.C())

	r := gin.New()
	r.GET("/v1/stream", hub.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		sub.Close()
		srv.Close()
	})
	return bus, hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_RelaysNotifications(t *testing.T) {
	bus, hub, url := startStream(t)

	all, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer all.Close()
	one, _, err := websocket.DefaultDialer.Dial(url+"?campaign_id=c2", nil)
	if err != nil {
		t.Fatalf("dial filtered: %v", err)
	}
	defer one.Close()
	waitClients(t, hub, 2)

	bus.Publish(events.Notification{Type: events.CampaignStatus, CampaignID: "c1"})
	bus.Publish(events.Notification{Type: events.CallFinalized, CampaignID: "c2", CallID: "call-9"})

	read := func(conn *websocket.Conn) events.Notification {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var n events.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return n
	}

	if n := read(all); n.Type != events.CampaignStatus || n.CampaignID != "c1" {
		t.Fatalf("unexpected first notification %+v", n)
	}
	if n := read(all); n.CallID != "call-9" {
		t.Fatalf("unexpected second notification %+v", n)
	}
	if n := read(one); n.CampaignID != "c2" || n.Type != events.CallFinalized {
		t.Fatalf("filter let through %+v", n)
	}
}

func TestStream_UnregistersOnClose(t *testing.T) {
	_, hub, url := startStream(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitClients(t, hub, 1)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitClients(t, hub, 0)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://ops.example.com/"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	if !check(req("https://ops.example.com")) {
		t.Fatalf("configured origin refused")
	}
	if check(req("https://evil.example.com")) {
		t.Fatalf("foreign origin accepted")
	}
	if !check(req("")) {
		t.Fatalf("non-browser client refused")
	}
	if originChecker([]string{"*"})(req("https://anything.test")) != true {
		t.Fatalf("wildcard refused")
	}
	if originChecker(nil) != nil {
		t.Fatalf("empty list should fall back to the same-host check")
	}
}
