package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-service/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultSendBuffer     = 256
	defaultMaxMessageSize = 8192
)

// Connector is the coordinator surface the transport feeds.
type Connector interface {
	Connect(connID string, sink hub.Sink) error
	Dispatch(connID string, frame []byte) error
	Disconnect(connID string) error
}

// Client is one websocket connection. It implements hub.Sink.
type Client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, bufferSize int) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, bufferSize),
	}
}

// Send queues a frame for the write pump. It never blocks.
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump after the queued frames are flushed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

type WSHandler struct {
	coordinator    Connector
	upgrader       websocket.Upgrader
	sendBuffer     int
	maxMessageSize int64
	logger         *zap.Logger
}

type WSOptions struct {
	SendBufferSize int
	MaxMessageSize int64
}

func NewWSHandler(coordinator Connector, opts WSOptions, logger *zap.Logger) *WSHandler {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	return &WSHandler{
		coordinator: coordinator,
		upgrader: websocket.Upgrader{
			// Identity is established by the authenticate event.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sendBuffer:     opts.SendBufferSize,
		maxMessageSize: opts.MaxMessageSize,
		logger:         logger.With(zap.String("component", "ws")),
	}
}

// HandleWebSocket upgrades the request and serves the connection until the
// peer goes away.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(conn, h.sendBuffer)
	if err := h.coordinator.Connect(client.id, client); err != nil {
		h.logger.Warn("Coordinator unavailable, closing connection", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "service unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.logger.Debug("WebSocket connected",
		zap.String("connId", client.id),
		zap.String("remote", c.ClientIP()))

	go h.writePump(client)
	h.readPump(client)
}

func (h *WSHandler) readPump(client *Client) {
	defer func() {
		if err := h.coordinator.Disconnect(client.id); err != nil {
			h.logger.Debug("Disconnect not delivered", zap.String("connId", client.id), zap.Error(err))
		}
		client.Close()
		client.conn.Close()
	}()

	client.conn.SetReadLimit(h.maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error", zap.String("connId", client.id), zap.Error(err))
			}
			return
		}

		if err := h.coordinator.Dispatch(client.id, message); err != nil {
			h.logger.Debug("Dropping frame",
				zap.String("connId", client.id),
				zap.Error(err))
		}
	}
}

func (h *WSHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
