package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketSubscriber adapts one upgraded WebSocket connection into an
// EventSubscriber, so a remote watcher receives storage-substrate events
// through the same DefaultEventBus broadcast path as any in-process
// subscriber.
type WebSocketSubscriber struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	closed int32
}

func newWebSocketSubscriber(conn *websocket.Conn, logger *slog.Logger) *WebSocketSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketSubscriber{id: uuid.New().String(), conn: conn, ctx: ctx, cancel: cancel, logger: logger}
}

func (s *WebSocketSubscriber) ID() string { return s.id }

// Send writes event as JSON with a bounded deadline, matching the
// teacher's WebSocketHub.sendToClient.
func (s *WebSocketSubscriber) Send(event Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteJSON(event); err != nil {
		s.logger.Warn("failed to send event to websocket subscriber", "id", s.id, "err", err)
		return err
	}
	return nil
}

func (s *WebSocketSubscriber) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.cancel()
	return s.conn.Close()
}

func (s *WebSocketSubscriber) Context() context.Context { return s.ctx }

// ServeWebSocket upgrades r, registers the connection with bus as an
// EventSubscriber, and blocks running the connection's ping/pong keepalive
// loop until the client disconnects or the request context ends.
func ServeWebSocket(bus *DefaultEventBus, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade websocket connection", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	sub := newWebSocketSubscriber(conn, logger)
	if err := bus.Subscribe(sub); err != nil {
		logger.Error("failed to subscribe websocket client", "err", err)
		_ = conn.Close()
		return
	}
	logger.Info("websocket client connected", "id", sub.ID(), "remote_addr", r.RemoteAddr)
	defer func() {
		_ = bus.Unsubscribe(sub)
		_ = sub.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
