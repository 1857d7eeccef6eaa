package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame is one message sent over /ws/metrics, with Type always "update".
// Sequence is monotonically increasing per channel (not wall-clock
// derived), so a client can detect a dropped frame without caring what
// time it arrived.
type Frame struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
	Sequence  int64       `json:"sequence"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	subscriptions map[string]bool
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[channel]
}

func (c *wsClient) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[channel] = true
}

// MetricsHub broadcasts Frames to every subscribed client, grounded on
// the teacher's websocket.Hub broadcast-with-backpressure pattern: a
// client whose send buffer is full is dropped rather than blocking the
// broadcaster.
type MetricsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	seq     map[string]*atomic.Int64
	logger  *zerolog.Logger

	upgrader websocket.Upgrader
}

func NewMetricsHub(logger *zerolog.Logger) *MetricsHub {
	return &MetricsHub{
		clients: make(map[*wsClient]bool),
		seq:     make(map[string]*atomic.Int64),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *MetricsHub) nextSeq(channel string) int64 {
	h.mu.Lock()
	counter, ok := h.seq[channel]
	if !ok {
		counter = &atomic.Int64{}
		h.seq[channel] = counter
	}
	h.mu.Unlock()
	return counter.Add(1)
}

// Publish sends data to every client subscribed to channel.
func (h *MetricsHub) Publish(channel string, data interface{}) {
	frame := Frame{Type: "update", Channel: channel, Payload: data, Timestamp: time.Now().UnixMilli(), Sequence: h.nextSeq(channel)}
	payload, err := json.Marshal(frame)
	if err != nil {
		if h.logger != nil {
			h.logger.Error().Err(err).Str("channel", channel).Msg("failed to marshal metrics frame")
		}
		return
	}

	h.mu.RLock()
	var stale []*wsClient
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	if len(stale) > 0 {
		h.mu.Lock()
		for _, c := range stale {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *MetricsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and subscribes the client to every
// channel named in the "channels" query parameter (default: "all").
func (h *MetricsHub) ServeHTTP(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		}
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64), subscriptions: make(map[string]bool)}
	channels := c.QueryArray("channels")
	if len(channels) == 0 {
		channels = []string{"all"}
	}
	for _, ch := range channels {
		client.subscribe(ch)
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *MetricsHub) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *MetricsHub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Type    string `json:"type"`
			Payload struct {
				Channels []string `json:"channels"`
			} `json:"payload"`
		}
		if json.Unmarshal(msg, &req) == nil && req.Type == "subscribe" {
			for _, ch := range req.Payload.Channels {
				c.subscribe(ch)
			}
		}
	}
}
