// Package stream pushes engine snapshots to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 8
)

// Metrics receives client and drop counts. *observability.PropagationCollector
// implements it.
type Metrics interface {
	SetStreamClients(n int)
	IncStreamDropped()
}

type noopMetrics struct{}

func (noopMetrics) SetStreamClients(int) {}
func (noopMetrics) IncStreamDropped()    {}

// Frame is the JSON message sent for each published snapshot.
type Frame struct {
	Tick       int         `json:"tick"`
	SimSeconds float64     `json:"sim_seconds"`
	TimeScale  float64     `json:"time_scale"`
	Bodies     []BodyFrame `json:"bodies"`
}

// BodyFrame is one body in a Frame.
type BodyFrame struct {
	ID       string  `json:"id"`
	ParentID string  `json:"parent_id,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
}

// FrameFromSnapshot converts an engine snapshot to its wire form.
func FrameFromSnapshot(s core.Snapshot) Frame {
	f := Frame{
		Tick:       s.Tick,
		SimSeconds: s.SimSeconds,
		TimeScale:  s.TimeScale,
		Bodies:     make([]BodyFrame, len(s.Bodies)),
	}
	for i, b := range s.Bodies {
		f.Bodies[i] = BodyFrame{ID: b.ID, ParentID: b.ParentID, X: b.Position.X, Y: b.Position.Y, Z: b.Position.Z}
	}
	return f
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	once    sync.Once
}

// Broadcaster fans snapshots out to connected clients. Each client has its
// own rate limiter; frames over the limit, or arriving while the client's
// queue is full, are dropped for that client only.
type Broadcaster struct {
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int

	mu      sync.Mutex
	clients map[*client]struct{}

	log     logging.Logger
	metrics Metrics
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the broadcaster logger.
func WithLogger(l logging.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics sets where client and drop counts are reported.
func WithMetrics(m Metrics) Option {
	return func(b *Broadcaster) {
		if m != nil {
			b.metrics = m
		}
	}
}

// NewBroadcaster allows each client framesPerSecond frames with bursts of
// up to burst frames.
func NewBroadcaster(framesPerSecond float64, burst int, opts ...Option) *Broadcaster {
	if burst < 1 {
		burst = 1
	}
	b := &Broadcaster{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limit:   rate.Limit(framesPerSecond),
		burst:   burst,
		clients: make(map[*client]struct{}),
		log:     logging.Noop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request and streams frames until the client goes
// away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(b.limit, b.burst),
	}
	n := b.add(c)
	b.log.Info(r.Context(), "stream client connected",
		logging.String("remote", r.RemoteAddr),
		logging.Int("clients", n),
	)

	go b.writeLoop(c)
	// Reads only detect the close; clients have nothing to send.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	b.remove(c)
}

func (b *Broadcaster) writeLoop(c *client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			b.remove(c)
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (b *Broadcaster) add(c *client) int {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	n := len(b.clients)
	b.mu.Unlock()
	b.metrics.SetStreamClients(n)
	return n
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	delete(b.clients, c)
	n := len(b.clients)
	b.mu.Unlock()
	if !ok {
		return
	}
	c.once.Do(func() {
		close(c.send)
		// writeLoop sends the close frame; the read side unblocks once the
		// peer answers or the connection drops.
		time.AfterFunc(writeWait, func() { _ = c.conn.Close() })
	})
	b.metrics.SetStreamClients(n)
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish encodes s once and queues it for every client whose limiter
// allows it. It never blocks on a slow client.
func (b *Broadcaster) Publish(s core.Snapshot) {
	msg, err := json.Marshal(FrameFromSnapshot(s))
	if err != nil {
		b.log.Error(context.Background(), "encode stream frame", logging.Err(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if !c.limiter.Allow() {
			b.metrics.IncStreamDropped()
			continue
		}
		select {
		case c.send <- msg:
		default:
			b.metrics.IncStreamDropped()
		}
	}
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()
	for _, c := range clients {
		b.remove(c)
	}
}
