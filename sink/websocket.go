package sink

import (
	"context"
	"sync"
	"time"

	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/event"
	"github.com/TiyaAnlite/FocotServices/io-bilive-relay/room"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zoumo/goset"
	"k8s.io/klog/v2"
)

type WebSocketConfig struct {
	SendBuffer     int           `json:"send_buffer" yaml:"send_buffer"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval"`
	MaxMessageSize int64         `json:"max_message_size" yaml:"max_message_size"`
	// AutoReconnect of a room connected by a websocket attach, true when unset
	AutoReconnect *bool `json:"auto_reconnect" yaml:"auto_reconnect"`
}

func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		SendBuffer:     64,
		WriteTimeout:   time.Second * 10,
		PingInterval:   time.Second * 30,
		MaxMessageSize: 4096,
	}
}

// ImplicitAutoReconnect is the auto reconnect policy of rooms connected by an attach
func (c WebSocketConfig) ImplicitAutoReconnect() bool {
	return c.AutoReconnect == nil || *c.AutoReconnect
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	d := DefaultWebSocketConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// WebSocket is a subscriber connected over websocket. Nothing is written before Open,
// so the hello always precedes the first event.
type WebSocket struct {
	id     string
	roomID uint64
	conn   *websocket.Conn
	cfg    WebSocketConfig
	kinds  goset.Set // nil accepts every kind

	send     chan []byte
	open     chan []byte
	openOnce sync.Once

	closed      chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
	finished    chan struct{}
}

// NewWebSocket wraps an upgraded connection, kinds filters delivered events when not empty
func NewWebSocket(conn *websocket.Conn, roomID uint64, cfg WebSocketConfig, kinds []event.Kind) *WebSocket {
	cfg = cfg.withDefaults()
	ws := &WebSocket{
		id:        uuid.NewString(),
		roomID:    roomID,
		conn:      conn,
		cfg:       cfg,
		send:      make(chan []byte, cfg.SendBuffer),
		open:      make(chan []byte, 1),
		closed:    make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
		finished:  make(chan struct{}),
	}
	if len(kinds) > 0 {
		ws.kinds = goset.NewSet()
		for _, k := range kinds {
			ws.kinds.Add(k)
		}
	}
	return ws
}

func (ws *WebSocket) ID() string {
	return ws.id
}

// Deliver queues evt for the write pump. Filtered kinds count as delivered.
func (ws *WebSocket) Deliver(ctx context.Context, evt event.Event) error {
	select {
	case <-ws.closed:
		return room.ErrSinkClosed
	default:
	}
	if ws.kinds != nil && !ws.kinds.Contains(evt.Kind) {
		return nil
	}
	data, err := event.Encode(evt)
	if err != nil {
		klog.Errorf("[WebSocket]%s encode %s failed: %s", ws.id, evt.Kind, err.Error())
		return nil
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.closed:
		return room.ErrSinkClosed
	case <-ctx.Done():
		return room.ErrDeliveryTimeout
	}
}

// Open writes hello and starts flushing queued events
func (ws *WebSocket) Open(hello []byte) {
	ws.openOnce.Do(func() {
		ws.open <- hello
	})
}

func (ws *WebSocket) Close() error {
	ws.CloseWith(websocket.CloseNormalClosure, "subscription closed")
	return nil
}

// CloseWith closes the socket with a close frame, only the first call decides code and reason
func (ws *WebSocket) CloseWith(code int, reason string) {
	ws.closeOnce.Do(func() {
		ws.closeCode = code
		ws.closeReason = reason
		close(ws.closed)
	})
}

// Finished is closed once the underlying connection is released
func (ws *WebSocket) Finished() <-chan struct{} {
	return ws.finished
}

// WritePump owns every write to the connection and closes it on return
func (ws *WebSocket) WritePump() {
	ticker := time.NewTicker(ws.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.conn.Close()
		close(ws.finished)
	}()

	select {
	case hello := <-ws.open:
		if !ws.write(websocket.TextMessage, hello) {
			return
		}
	case <-ws.closed:
		ws.writeClose()
		return
	}
	for {
		select {
		case data := <-ws.send:
			if !ws.write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !ws.write(websocket.PingMessage, nil) {
				return
			}
		case <-ws.closed:
			ws.writeClose()
			return
		}
	}
}

func (ws *WebSocket) write(messageType int, data []byte) bool {
	_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
	if err := ws.conn.WriteMessage(messageType, data); err != nil {
		klog.V(2).Infof("[WebSocket]%s write failed: %s", ws.id, err.Error())
		ws.CloseWith(websocket.CloseAbnormalClosure, "write failed")
		return false
	}
	return true
}

func (ws *WebSocket) writeClose() {
	msg := websocket.FormatCloseMessage(ws.closeCode, ws.closeReason)
	if err := ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ws.cfg.WriteTimeout)); err != nil {
		klog.V(2).Infof("[WebSocket]%s close frame failed: %s", ws.id, err.Error())
	}
}

// ReadPump discards client messages and returns when the client goes away
func (ws *WebSocket) ReadPump() {
	defer ws.CloseWith(websocket.CloseNormalClosure, "client gone")
	ws.conn.SetReadLimit(ws.cfg.MaxMessageSize)
	pongWait := ws.cfg.PingInterval * 2
	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				klog.V(2).Infof("[WebSocket]%s read failed: %s", ws.id, err.Error())
			}
			return
		}
		_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
