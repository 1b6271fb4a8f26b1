package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"marketdash/internal/util"
)

// Ingester accepts external sentiment updates. The sentiment store
// implements it.
type Ingester interface {
	IngestExternalUpdate(payload any) error
}

// Feed connects to an upstream sentiment WebSocket and forwards every
// message to an Ingester, reconnecting with backoff.
type Feed struct {
	url          string
	sink         Ingester
	reconnectMin time.Duration
	reconnectMax time.Duration
	dialer       *websocket.Dialer
	log          *slog.Logger
}

// NewFeed creates a feed client for url.
func NewFeed(url string, sink Ingester, reconnectMin, reconnectMax time.Duration, log *slog.Logger) *Feed {
	if log == nil {
		log = util.Discard()
	}
	if reconnectMin <= 0 {
		reconnectMin = time.Second
	}
	if reconnectMax < reconnectMin {
		reconnectMax = reconnectMin
	}
	return &Feed{
		url:          url,
		sink:         sink,
		reconnectMin: reconnectMin,
		reconnectMax: reconnectMax,
		dialer:       websocket.DefaultDialer,
		log:          log.With("component", "feed", "url", url),
	}
}

// Run keeps the feed connected until ctx is cancelled. It always returns
// ctx.Err().
func (f *Feed) Run(ctx context.Context) error {
	delay := f.reconnectMin
	for {
		n, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if n > 0 {
			delay = f.reconnectMin
		}
		f.log.Warn("feed disconnected, reconnecting", "received", n, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.reconnectMax {
			delay = f.reconnectMax
		}
	}
}

// session runs one connection and returns the number of messages handed to
// the sink.
func (f *Feed) session(ctx context.Context) (int, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()
	f.log.Info("feed connected")

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	received := 0
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("reading: %w", err)
		}
		if err := f.sink.IngestExternalUpdate(json.RawMessage(msg)); err != nil {
			f.log.Warn("skipping malformed feed message", "bytes", len(msg), "error", err)
			continue
		}
		received++
	}
}
