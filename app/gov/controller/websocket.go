package controller

import (
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "event", "ping"
	Payload interface{} `json:"payload"` // Event-specific data
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// HandleWebSocket upgrades the connection and streams governance events
// from the in-process hub until the client disconnects.
//
// Server sends:
// - {"type": "event", "payload": {"kind": "lock.created", ...}}
// - {"type": "ping", "payload": {"timestamp": 1234567890}}
//
// All goroutines have panic recovery to prevent crashes.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			c.App.Logger.Debug("WebSocket close", zap.Error(cerr))
		}
	}()

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	subID, eventCh := c.App.Hub.Subscribe()
	defer c.App.Hub.Unsubscribe(subID)

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	// Reader: we never expect client messages, but reading is how we
	// notice the peer going away.
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in WebSocket reader",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())))
			}
			closeDone()
		}()
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	write := func(msg ServerMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if werr := conn.WriteJSON(msg); werr != nil {
			c.App.Logger.Debug("WebSocket write failed", zap.Error(werr))
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case ev := <-eventCh:
			if !write(ServerMessage{Type: "event", Payload: ev}) {
				return
			}
		case <-ticker.C:
			if !write(ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": time.Now().Unix()}}) {
				return
			}
		}
	}
}
