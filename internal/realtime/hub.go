package realtime

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/floorwise/collab/internal/collab"
	"github.com/floorwise/collab/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	sendBufferSize = 64
)

// Hub upgrades HTTP requests to WebSocket connections and bridges them to the
// collaboration coordinator: each connection becomes the user's outbound sink,
// and every inbound frame is dispatched through the coordinator.
type Hub struct {
	coordinator *collab.Coordinator
	upgrader    websocket.Upgrader
	log         *zap.Logger
}

// NewHub constructs a Hub bound to the supplied coordinator.
func NewHub(coordinator *collab.Coordinator) *Hub {
	return &Hub{
		coordinator: coordinator,
		log:         logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the request and runs the connection until the client goes
// away. It blocks for the lifetime of the connection.
func (h *Hub) Serve(userID, displayName string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(socket)

	if err := h.coordinator.Connect(userID, displayName, conn); err != nil {
		h.log.Warn("connection rejected",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		_ = socket.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"),
			time.Now().Add(writeWait),
		)
		_ = socket.Close()
		return
	}

	go conn.writeLoop()
	h.readLoop(userID, conn)

	h.coordinator.Disconnect(userID)
}

func (h *Hub) readLoop(userID string, c *connection) {
	defer c.Close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("unexpected close",
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
			return
		}

		if len(payload) == 0 {
			continue
		}
		h.coordinator.HandleMessage(userID, payload)
	}
}

// connection is one client socket. It implements collab.Sink.
type connection struct {
	socket *websocket.Conn
	send   chan collab.Event
	closed chan struct{}
	once   sync.Once
}

func newConnection(socket *websocket.Conn) *connection {
	return &connection{
		socket: socket,
		send:   make(chan collab.Event, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Send enqueues an event for delivery. A full buffer or a closed connection
// fails immediately; the coordinator treats that as an implicit disconnect.
func (c *connection) Send(event collab.Event) error {
	select {
	case <-c.closed:
		return errors.New("realtime: connection closed")
	default:
	}

	select {
	case c.send <- event:
		return nil
	default:
		return errors.New("realtime: send buffer full")
	}
}

// Close shuts the socket down. Idempotent.
func (c *connection) Close() error {
	c.once.Do(func() {
		close(c.closed)
		_ = c.socket.Close()
	})
	return nil
}

func (c *connection) writeLoop() {
	defer c.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case event := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// hostWithoutPort normalises an origin or host header value to a bare
// hostname for comparison.
func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil && u.Host != "" {
			return u.Hostname()
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
