package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
	"github.com/nerrad567/autotouch-core/internal/infrastructure/logging"
)

// Frame types written to subscribers.
const (
	FrameEvent = "event"
	FrameAck   = "ack"
	FramePong  = "pong"
	FrameError = "error"
)

// Control operations a subscriber may send.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

const (
	// subscriberBuffer is how many frames may queue for a slow subscriber
	// before further events are dropped for it.
	subscriberBuffer = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// Event is a run or overlay event pushed to subscribers of its channel.
// Seq increases by one per broadcast across all channels, so a client can
// tell a replayed event from a newer one.
type Event struct {
	Type    string    `json:"type"`
	Channel string    `json:"channel"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Data    any       `json:"data"`
}

// Control is a frame sent by a subscriber.
type Control struct {
	Op       string   `json:"op"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// Reply answers one Control frame.
type Reply struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Hub fans run and overlay events out to WebSocket subscribers. It satisfies
// the broadcaster interfaces of the supervisor and the overlay controller and
// keeps the latest event per channel for subscribers that join late.
type Hub struct {
	pingInterval time.Duration
	pongTimeout  time.Duration
	maxFrame     int64
	logger       *logging.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	latest map[string][]byte
	seq    uint64
	closed bool
}

// NewHub creates a hub. Zero intervals fall back to 30s pings and a 10s
// pong timeout.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:  time.Duration(cfg.PongTimeout) * time.Second,
		maxFrame:     int64(cfg.MaxMessageSize),
		logger:       logger,
		subs:         make(map[*subscriber]struct{}),
		latest:       make(map[string][]byte),
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.pongTimeout <= 0 {
		h.pongTimeout = defaultPongTimeout
	}
	return h
}

// Run blocks until ctx ends, then disconnects every subscriber. Subscribers
// that arrive afterwards are turned away.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

// Broadcast sends payload to every subscriber of channel.
func (h *Hub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	h.seq++
	data, err := json.Marshal(Event{
		Type:    FrameEvent,
		Channel: channel,
		Seq:     h.seq,
		At:      time.Now().UTC(),
		Data:    payload,
	})
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("encoding event", "channel", channel, "error", err)
		return
	}
	h.latest[channel] = data
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	dropped := 0
	for _, sub := range subs {
		if sub.wants(channel) && !sub.deliver(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket subscribers lagging", "channel", channel, "dropped", dropped)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// attach registers sub and replays the latest event of its initial channels.
func (h *Hub) attach(sub *subscriber, channels []string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("websocket subscriber attached", "channels", channels, "subscribers", n)
	h.replay(sub, channels)
}

// detach removes sub. Calling it twice is harmless.
func (h *Hub) detach(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	sub.close()
	h.logger.Debug("websocket subscriber detached", "subscribers", n)
}

// replay sends the cached latest event of each channel, so a subscriber
// joining mid-run sees the current state without waiting for the next one.
func (h *Hub) replay(sub *subscriber, channels []string) {
	h.mu.RLock()
	pending := make([][]byte, 0, len(channels))
	for _, ch := range channels {
		if data, ok := h.latest[ch]; ok {
			pending = append(pending, data)
		}
	}
	h.mu.RUnlock()

	for _, data := range pending {
		sub.deliver(data)
	}
}

// handleControl applies one frame read from sub.
func (h *Hub) handleControl(sub *subscriber, data []byte) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		sub.reply(Reply{Type: FrameError, Error: "invalid control frame"})
		return
	}

	switch c.Op {
	case OpSubscribe:
		if len(c.Channels) == 0 {
			sub.reply(Reply{Type: FrameError, ID: c.ID, Error: "subscribe needs channels"})
			return
		}
		sub.set(c.Channels, true)
		sub.reply(Reply{Type: FrameAck, ID: c.ID, Channels: c.Channels})
		h.replay(sub, c.Channels)
	case OpUnsubscribe:
		sub.set(c.Channels, false)
		sub.reply(Reply{Type: FrameAck, ID: c.ID, Channels: c.Channels})
	case OpPing:
		sub.reply(Reply{Type: FramePong, ID: c.ID})
	default:
		sub.reply(Reply{Type: FrameError, ID: c.ID, Error: fmt.Sprintf("unknown op %q", c.Op)})
	}
}

// readLoop consumes control frames until the connection fails. Any frame or
// pong extends the read deadline.
func (h *Hub) readLoop(sub *subscriber) {
	defer func() {
		h.detach(sub)
		sub.conn.Close()
	}()

	idle := h.pingInterval + h.pongTimeout
	extend := func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(idle))
	}
	if h.maxFrame > 0 {
		sub.conn.SetReadLimit(h.maxFrame)
	}
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend("")
	sub.conn.SetPongHandler(extend)

	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend("")
		h.handleControl(sub, data)
	}
}

// writeLoop drains sub's queue and pings on the configured interval. A closed
// queue sends a close frame and ends the connection.
func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		if err := sub.conn.SetWriteDeadline(time.Now().Add(h.pongTimeout)); err != nil {
			return err
		}
		return sub.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-sub.out:
			if !ok {
				//nolint:errcheck // the peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// upgrader leaves origin checks to the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades to a WebSocket subscription. Channels listed in
// ?channels=a,b are subscribed and replayed immediately.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var channels []string
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(conn, channels)
	s.hub.attach(sub, channels)
	go s.hub.writeLoop(sub)
	go s.hub.readLoop(sub)
}

// subscriber is one WebSocket connection and the channels it follows.
type subscriber struct {
	conn *websocket.Conn
	out  chan []byte

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

func newSubscriber(conn *websocket.Conn, channels []string) *subscriber {
	sub := &subscriber{
		conn:     conn,
		out:      make(chan []byte, subscriberBuffer),
		channels: make(map[string]struct{}, len(channels)),
	}
	sub.set(channels, true)
	return sub
}

func (s *subscriber) wants(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *subscriber) set(channels []string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if on {
			s.channels[ch] = struct{}{}
		} else {
			delete(s.channels, ch)
		}
	}
}

// deliver queues data without blocking. It reports false when the frame was
// dropped because the queue is full or the subscriber is gone.
func (s *subscriber) deliver(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	s.deliver(data)
}

// close ends the queue once; writeLoop then closes the connection.
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
