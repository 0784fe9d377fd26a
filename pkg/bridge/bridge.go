// Package bridge maintains the one long-lived websocket this session
// holds against the backend's push channel. Frames are name-tagged
// JSON; payloads are schema-checked before any subscriber runs.
package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"autosync/pkg/logger"
	"autosync/pkg/metrics"
)

// AdminGroup is the shared broadcast group admin sessions join.
const AdminGroup = "admins"

// UserGroup returns the private group name for one user session.
func UserGroup(id string) string { return "user:" + id }

// Handler consumes one validated event payload. Each handler gets its
// own shallow copy of the payload map.
type Handler func(payload map[string]any)

type Config struct {
	URL              string
	Token            string
	Origin           string
	Group            string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

func (c *Config) fillDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = time.Minute
	}
}

type Bridge struct {
	cfg    Config
	dialer *websocket.Dialer

	mu        sync.RWMutex
	handlers  map[Event]map[int]Handler
	nextID    int
	listeners []func(connected bool)
	connected bool
	conn      *websocket.Conn

	writeMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	done     chan struct{}
}

func New(cfg Config) *Bridge {
	cfg.fillDefaults()
	return &Bridge{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		handlers: make(map[Event]map[int]Handler),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for one event and returns its id.
func (b *Bridge) Subscribe(ev Event, h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[ev] == nil {
		b.handlers[ev] = make(map[int]Handler)
	}
	b.handlers[ev][id] = h
	return id
}

// Unsubscribe removes one handler. Unknown ids are ignored.
func (b *Bridge) Unsubscribe(ev Event, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m := b.handlers[ev]; m != nil {
		delete(m, id)
	}
}

// OnTransition registers a connection-state listener. Register before
// Start.
func (b *Bridge) OnTransition(fn func(connected bool)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Connected reports the current connection state.
func (b *Bridge) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Start launches the connect/read loop. Calling it twice is a no-op.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()
	go b.run()
}

// Stop tears the connection down and waits for the loop to end.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.mu.Lock()
		if b.conn != nil {
			_ = b.conn.Close()
		}
		b.mu.Unlock()
	})
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if started {
		<-b.done
	}
}

func (b *Bridge) run() {
	defer close(b.done)
	delay := b.cfg.ReconnectMin
	first := true
	for {
		select {
		case <-b.stop:
			return
		default:
		}

		conn, err := b.dial()
		if err != nil {
			if !first {
				metrics.BridgeReconnects.Inc()
			}
			first = false
			logger.Warn("bridge_dial_failed", "url", b.cfg.URL, "error", err, "retry_in", delay.String())
			select {
			case <-b.stop:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > b.cfg.ReconnectMax {
				delay = b.cfg.ReconnectMax
			}
			continue
		}
		if !first {
			metrics.BridgeReconnects.Inc()
		}
		first = false
		delay = b.cfg.ReconnectMin

		if err := b.join(conn); err != nil {
			logger.Warn("bridge_join_failed", "group", b.cfg.Group, "error", err)
			_ = conn.Close()
			continue
		}
		logger.Info("bridge_connected", "url", b.cfg.URL, "group", b.cfg.Group)
		b.setConnected(conn)
		b.readLoop(conn)
		b.setDisconnected()
		_ = conn.Close()
		select {
		case <-b.stop:
			return
		default:
			logger.Warn("bridge_disconnected", "url", b.cfg.URL)
		}
	}
}

func (b *Bridge) dial() (*websocket.Conn, error) {
	hdr := http.Header{}
	if b.cfg.Origin != "" {
		hdr.Set("Origin", b.cfg.Origin)
	}
	if b.cfg.Token != "" {
		hdr.Set("Authorization", "Bearer "+b.cfg.Token)
	}
	conn, resp, err := b.dialer.Dial(b.cfg.URL, hdr)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// join announces this session's group. Admin sessions join the shared
// admin broadcast, user sessions their private group.
func (b *Bridge) join(conn *websocket.Conn) error {
	frame := map[string]any{
		"event": "join",
		"data":  map[string]any{"group": b.cfg.Group},
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(frame)
}

func (b *Bridge) setConnected(conn *websocket.Conn) {
	b.mu.Lock()
	b.connected = true
	b.conn = conn
	listeners := append([]func(bool){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(true)
	}
}

func (b *Bridge) setDisconnected() {
	b.mu.Lock()
	b.connected = false
	b.conn = nil
	listeners := append([]func(bool){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(false)
	}
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	pongWait := 2 * b.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go b.pingLoop(conn, stopPing)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-b.stop:
			default:
				logger.Warn("bridge_read_failed", "error", err)
			}
			return
		}
		b.dispatch(raw)
	}
}

func (b *Bridge) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(b.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-b.stop:
			return
		case <-t.C:
			b.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			b.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (b *Bridge) dispatch(raw []byte) {
	var f struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		metrics.BridgeRejected.Inc()
		logger.Warn("bridge_frame_undecodable", "error", err)
		return
	}
	if f.Event == "" {
		metrics.BridgeRejected.Inc()
		logger.Warn("bridge_frame_unnamed")
		return
	}
	if !Known(f.Event) {
		// joined acks and other server chatter land here
		logger.Debug("bridge_event_ignored", "event", f.Event)
		return
	}
	ev := Event(f.Event)

	payload := map[string]any{}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &payload); err != nil {
			metrics.BridgeRejected.Inc()
			logger.Warn("bridge_payload_undecodable", "event", f.Event, "error", err)
			return
		}
	}
	if err := ValidatePayload(ev, payload); err != nil {
		metrics.BridgeRejected.Inc()
		logger.Warn("bridge_payload_rejected", "event", f.Event, "error", err)
		return
	}
	metrics.BridgeEvents.WithLabelValues(f.Event).Inc()

	for id, h := range b.handlersFor(ev) {
		b.safeCall(ev, id, h, clonePayload(payload))
	}
}

func (b *Bridge) handlersFor(ev Event) map[int]Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[int]Handler, len(b.handlers[ev]))
	for id, h := range b.handlers[ev] {
		out[id] = h
	}
	return out
}

// safeCall isolates handlers: one panicking consumer must not take the
// read loop or its siblings down.
func (b *Bridge) safeCall(ev Event, id int, h Handler, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bridge_handler_panicked", "event", string(ev), "handler", id, "panic", fmt.Sprintf("%v", r))
		}
	}()
	h(payload)
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
