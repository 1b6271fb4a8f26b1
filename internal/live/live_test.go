package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketdash/internal/domain"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)
	if h.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", h.Subscribers())
	}

	h.Publish(Event{Source: SourceMarket, Kind: "instruments", Market: domain.MarketTW})
	// Buffer full: dropped, must not block.
	h.Publish(Event{Source: SourceMarket, Kind: "detail"})

	evt := <-ch
	if evt.Kind != "instruments" || evt.At.IsZero() {
		t.Errorf("event = %+v", evt)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second event %+v", extra)
	default:
	}

	h.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel not closed after Unsubscribe")
	}
	var nilHub *Hub
	nilHub.Publish(Event{})
}

type recordingSink struct {
	mu   sync.Mutex
	good []string
	bad  int
}

func (s *recordingSink) IngestExternalUpdate(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw []byte
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	}
	if !strings.Contains(string(raw), "positive") {
		s.bad++
		return errors.New("unsupported payload")
	}
	s.good = append(s.good, string(raw))
	return nil
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.good), s.bad
}

func TestFeedForwardsMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"positive":2,"neutral":1,"negative":0}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`"garbage"`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"positive":1,"neutral":0,"negative":0}`))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &recordingSink{}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewFeed(url, sink, 10*time.Millisecond, 50*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if good, bad := sink.counts(); good == 2 && bad == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if good, bad := sink.counts(); good != 2 || bad != 1 {
		t.Fatalf("good=%d bad=%d, want 2/1", good, bad)
	}
}

func TestFeedStopsWhileDisconnected(t *testing.T) {
	f := NewFeed("ws://127.0.0.1:1/none", &recordingSink{}, 5*time.Millisecond, 10*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := f.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want DeadlineExceeded", err)
	}
}

func TestServerSnapshotThenEvents(t *testing.T) {
	hub := NewHub()
	s := NewServer(hub, func() any { return map[string]string{"hello": "snapshot"} }, nil, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap map[string]string
	if err := conn.ReadJSON(&snap); err != nil || snap["hello"] != "snapshot" {
		t.Fatalf("snapshot = %v, %v", snap, err)
	}

	// Wait for the server to subscribe before publishing.
	for i := 0; i < 200 && hub.Subscribers() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(Event{Source: SourceSentiment, Kind: "records", Market: domain.MarketUS})

	var evt Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if evt.Source != SourceSentiment || evt.Kind != "records" || evt.Market != domain.MarketUS {
		t.Errorf("event = %+v", evt)
	}
}

func TestAllowOrigin(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "http://evil.example", true},
		{[]string{"*"}, "http://evil.example", true},
		{[]string{"http://localhost:5173"}, "", true},
		{[]string{"http://localhost:5173/"}, "http://localhost:5173", true},
		{[]string{"http://localhost:5173"}, "HTTP://LOCALHOST:5173", true},
		{[]string{"http://localhost:5173"}, "http://evil.example", false},
	}
	for _, tt := range tests {
		if got := AllowOrigin(tt.allowed, tt.origin); got != tt.want {
			t.Errorf("AllowOrigin(%v, %q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}

func TestServerRejectsForeignOrigin(t *testing.T) {
	s := NewServer(NewHub(), nil, []string{"http://dash.local"}, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	hdr := http.Header{"Origin": {"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err == nil {
		conn.Close()
		t.Fatal("Dial from foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	hdr = http.Header{"Origin": {"http://dash.local"}}
	conn, _, err = websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("Dial from allowed origin: %v", err)
	}
	conn.Close()
}
