package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hadydotai/beacon/events"
)

func startHub(t *testing.T) (*Registry, *Distributor, string) {
	t.Helper()
	reg := NewRegistry()
	hub, err := NewHub(reg, HubTimeouts(5*time.Second, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return reg, NewDistributor(reg, nil), "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	var welcome map[string]string
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome["message"] != WelcomeMessage {
		t.Fatalf("welcome = %v", welcome)
	}
	return ws
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubDeliversToOneSubscriberAtATime(t *testing.T) {
	reg, dist, url := startHub(t)
	first := dial(t, url)
	waitFor(t, "first registration", func() bool { return reg.Len() == 1 })
	second := dial(t, url)
	waitFor(t, "second registration", func() bool { return reg.Len() == 2 })

	evt := events.Event{Longitude: 1, Latitude: 2, Time: "t1", Name: "A", PhoneNo: "555"}
	for range 2 {
		d, err := dist.Distribute(evt)
		if err != nil || d.Outcome != OutcomeDelivered {
			t.Fatalf("distribute: %+v %v", d, err)
		}
	}

	for i, ws := range []*websocket.Conn{first, second} {
		var got events.Event
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := ws.ReadJSON(&got); err != nil {
			t.Fatalf("subscriber %d read: %v", i, err)
		}
		if got != evt {
			t.Fatalf("subscriber %d got %+v", i, got)
		}
	}

	// Each subscriber got exactly one; nothing else should be queued.
	_ = first.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatalf("first subscriber received a second event")
	}
}

func TestHubDeregistersOnDisconnect(t *testing.T) {
	reg, dist, url := startHub(t)
	ws := dial(t, url)
	waitFor(t, "registration", func() bool { return reg.Len() == 1 })

	// Client payloads are ignored.
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"hello":"server"}`)); err != nil {
		t.Fatal(err)
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	waitFor(t, "deregistration", func() bool { return reg.Len() == 0 })
	if d, _ := dist.Distribute(events.Event{}); d.Outcome != OutcomeNoSubscribers {
		t.Fatalf("outcome = %s", d.Outcome)
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	reg := NewRegistry()
	hub, err := NewHub(reg, HubAllowedOrigins("https://app.example"))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	header := map[string][]string{"Origin": {"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("expected 403, got %+v", resp)
	}
	if reg.Len() != 0 {
		t.Fatalf("rejected connection was registered")
	}
}

func TestConnSendAfterCloseIsRefused(t *testing.T) {
	reg, _, url := startHub(t)
	_ = dial(t, url)
	waitFor(t, "registration", func() bool { return reg.Len() == 1 })

	subs, _ := reg.Snapshot()
	conn := subs[0].(*Conn)
	if err := conn.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	if conn.State() != StateClosed {
		t.Fatalf("state = %s", conn.State())
	}
	if conn.Send([]byte(`{}`)) {
		t.Fatalf("send accepted on closed connection")
	}
	waitFor(t, "deregistration", func() bool { return reg.Len() == 0 })

	payload, _ := json.Marshal(events.Event{})
	if reg.dispatch(payload).Outcome != OutcomeNoSubscribers {
		t.Fatalf("closed connection still reachable")
	}
}

func TestHubNonPositiveTimeoutsFallBackToDefaults(t *testing.T) {
	reg := NewRegistry()
	hub, err := NewHub(reg, HubTimeouts(0, -time.Second), HubPingInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	defaults := hubDefaultConfig()
	if hub.cfg.ReadTimeout != defaults.ReadTimeout || hub.cfg.WriteTimeout != defaults.WriteTimeout {
		t.Fatalf("timeouts = %s/%s", hub.cfg.ReadTimeout, hub.cfg.WriteTimeout)
	}
	if hub.cfg.PingInterval <= 0 || hub.cfg.PingInterval >= hub.cfg.ReadTimeout {
		t.Fatalf("ping interval = %s", hub.cfg.PingInterval)
	}

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	// The session's write loop must start and keep the subscriber registered.
	dial(t, url)
	waitFor(t, "registration", func() bool { return reg.Len() == 1 })
	d, err := NewDistributor(reg, nil).Distribute(events.Event{Name: "A"})
	if err != nil || d.Outcome != OutcomeDelivered {
		t.Fatalf("distribute: %+v %v", d, err)
	}
}
