// websocket.go - Live measurement feed. Clients get every state transition
// and a best-effort sample stream: a slow client sees the newest samples and
// misses some, it never stalls the acquisition loop.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iv-workbench/backend/internal/bus"
	"github.com/iv-workbench/backend/internal/engine"
	"github.com/iv-workbench/backend/internal/models"
)

// WebSocket message types for the live protocol
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypePong      = "pong"
	MsgTypeSample    = "sample"
	MsgTypeState     = "state"
)

// WSMessage is the live-feed envelope
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// LiveHandler streams samples and state events over WebSocket.
type LiveHandler struct {
	engine   *engine.Controller
	upgrader websocket.Upgrader
}

// NewLiveHandler creates the live-feed handler
func NewLiveHandler(eng *engine.Controller) *LiveHandler {
	return &LiveHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// liveConn serializes writes; the sample forwarder, the event forwarder and
// the pong reply all share one connection.
type liveConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (lc *liveConn) send(msg WSMessage) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.ws.WriteJSON(msg)
}

// HandleLive upgrades the connection and streams until the client leaves
func (lh *LiveHandler) HandleLive(c echo.Context) error {
	ws, err := lh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := &liveConn{ws: ws}
	fmt.Println("[WebSocket] Live client connected")

	conn.send(WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()})

	watcherID, events := lh.engine.Subscribe()
	defer lh.engine.Unsubscribe(watcherID)

	done := make(chan struct{})

	// Reader: only pings come from the client; a read error means it left.
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					fmt.Printf("[WebSocket] Connection error: %v\n", err)
				}
				return
			}
			if msg.Type == MsgTypePing {
				conn.send(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
			}
		}
	}()

	// Attach to the run already in progress, if any.
	attached := lh.attachSampleStream(conn, nil)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			conn.send(WSMessage{
				Type:      MsgTypeState,
				Payload:   mustJSON(ev),
				Timestamp: time.Now().UnixMilli(),
			})
			// Each new run brings a fresh bus; re-attach on every start.
			// Resume republishes the running state, so the current bus is
			// passed along to keep the subscription single.
			if ev.State == models.RunStateRunning {
				attached = lh.attachSampleStream(conn, attached)
			}
		case <-done:
			fmt.Println("[WebSocket] Live client disconnected")
			return nil
		}
	}
}

// attachSampleStream subscribes to the active run's bus and forwards samples
// until the run ends. No-op when idle or when already attached to that bus.
// A finished bus closes its subscriber channels and the forwarder exits.
func (lh *LiveHandler) attachSampleStream(conn *liveConn, current *bus.Bus) *bus.Bus {
	liveBus, ok := lh.engine.LiveBus()
	if !ok {
		return current
	}
	if liveBus == current {
		return current
	}
	subID, samples := liveBus.Subscribe(0)

	go func() {
		defer liveBus.Unsubscribe(subID)
		for s := range samples {
			err := conn.send(WSMessage{
				Type:      MsgTypeSample,
				Payload:   mustJSON(s),
				Timestamp: time.Now().UnixMilli(),
			})
			if err != nil {
				return
			}
		}
	}()
	return liveBus
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
