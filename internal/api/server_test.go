package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"marketdash/internal/config"
	"marketdash/internal/live"
)

func TestNewServer(t *testing.T) {
	cfg := &config.Config{}
	s := NewServer(cfg, http.NotFoundHandler(), nil)
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.grpcAddr != "" {
		t.Errorf("grpcAddr = %q, want disabled", s.grpcAddr)
	}
	for _, svc := range []string{"", ServiceName} {
		st, err := s.Status(context.Background(), svc)
		if err != nil || st != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("Status(%q) = %v, %v; want NOT_SERVING", svc, st, err)
		}
	}
}

func TestWatchReadiness(t *testing.T) {
	s := NewServer(&config.Config{}, http.NotFoundHandler(), nil)
	hub := live.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.WatchReadiness(ctx, hub)
	hub.Publish(live.Event{Source: live.SourceSentiment, Kind: live.KindRecords})
	hub.Publish(live.Event{Source: live.SourceMarket, Kind: live.KindError})
	hub.Publish(live.Event{Source: live.SourceMarket, Kind: live.KindInstruments})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, _ := s.Status(ctx, ServiceName)
		if st == healthpb.HealthCheckResponse_SERVING {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never reported SERVING after a listing")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := &config.Config{Server: config.Server{Host: "127.0.0.1", Port: 0, GRPCPort: 0}}
	s := NewServer(cfg, http.NotFoundHandler(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
