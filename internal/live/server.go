package live

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"marketdash/internal/util"
)

const writeWait = 10 * time.Second

// Server pushes hub events to WebSocket clients. Each client first receives
// a snapshot, then every event as it arrives.
type Server struct {
	hub      *Hub
	snapshot func() any
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer creates a push server over hub. snapshot, if non-nil, produces
// the first message sent to each new client. origins restricts which
// browser origins may connect; an empty list accepts any.
func NewServer(hub *Hub, snapshot func() any, origins []string, log *slog.Logger) *Server {
	if log == nil {
		log = util.Discard()
	}
	return &Server{
		hub:      hub,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return AllowOrigin(origins, r.Header.Get("Origin"))
			},
		},
		log: log.With("component", "live-server"),
	}
}

// AllowOrigin reports whether origin is permitted by allowed. An empty list
// or a "*" entry permits everything, and requests without an Origin header
// (non-browser clients) are always permitted.
func AllowOrigin(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.snapshot != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}

	subID, ch := s.hub.Subscribe(256)
	defer s.hub.Unsubscribe(subID)
	s.log.Info("websocket client subscribed", "subID", subID, "remote", r.RemoteAddr)

	// Reader goroutine detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			s.log.Info("websocket client disconnected", "subID", subID)
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
