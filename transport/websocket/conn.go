package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/roomlink/eventbus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period. Must be less than the pong wait.
	defaultPingPeriod = 54 * time.Second

	defaultSendBuffer = 256

	defaultReadLimit = 64 * 1024

	defaultHandshakeTimeout = 10 * time.Second
)

// Close codes used in CloseDetail.
const (
	CloseNormal   = websocket.CloseNormalClosure
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageType tells text frames from binary frames.
type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Message is the detail of a MESSAGE event.
type Message struct {
	Type MessageType
	Data []byte
}

// Text returns the message data as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// CloseDetail is the detail of a CLOSE event.
type CloseDetail struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func (d CloseDetail) String() string {
	if d.Reason == "" {
		return fmt.Sprintf("%d", d.Code)
	}
	return fmt.Sprintf("%d (%s)", d.Code, d.Reason)
}

// ConnOptions configures a Conn. The zero value is usable.
type ConnOptions struct {
	// Dialer used for the handshake. Defaults to a dialer with a ten second
	// handshake timeout that honours proxy environment variables.
	Dialer *websocket.Dialer

	// Header is sent with the handshake request.
	Header http.Header

	Logger *slog.Logger

	// SendBuffer is the outbound queue length.
	SendBuffer int

	// PingPeriod is the keep-alive interval. The connection is considered
	// dead when no pong arrives within 10/9 of it.
	PingPeriod time.Duration

	// ReadLimit caps the size of an inbound frame.
	ReadLimit int64
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = defaultPingPeriod
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	return o
}

type outbound struct {
	typ  int
	data []byte
}

// socket is one physical connection. A Conn replaces it on every Connect.
type socket struct {
	gen       uint64
	ws        *websocket.Conn
	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once

	// closing is set when the local side asked for the close.
	closing atomic.Bool
}

func (s *socket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.ws.Close()
	})
}

// Conn is a client WebSocket connection with an event bus.
type Conn struct {
	opts ConnOptions
	bus  *eventbus.Bus
	log  *slog.Logger

	mu    sync.Mutex
	state State
	gen   uint64
	addr  string
	sock  *socket
}

// NewConn creates a disconnected connection.
func NewConn(opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		opts: opts,
		bus:  eventbus.New(),
		log:  opts.Logger.With("component", "websocket"),
	}
}

// Bus returns the bus the connection emits on.
func (c *Conn) Bus() *eventbus.Bus {
	return c.bus
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the connection is open.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Address returns the address of the last Connect call.
func (c *Conn) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Connect starts dialing addr unless the connection is already connecting
// or connected. It does not wait for the handshake.
func (c *Conn) Connect(addr string) *Conn {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		c.log.Debug("connect ignored", "state", c.State(), "address", addr)
		return c
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.addr = addr
	c.mu.Unlock()

	c.log.Debug("dialing", "address", addr)
	go c.dial(gen, addr)
	return c
}

func (c *Conn) dial(gen uint64, addr string) {
	ws, _, err := c.opts.Dialer.Dial(addr, c.opts.Header)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}

	if c.state != StateConnecting {
		// Close was called during the handshake.
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		c.bus.Emit(eventbus.Close, CloseDetail{Code: CloseNormal, Reason: "client closed"})
		return
	}

	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()

		c.log.Warn("websocket dial failed", "address", addr, "error", err)
		c.bus.Emit(eventbus.Error, fmt.Errorf("dial %s: %w", addr, err))
		if c.current(gen) {
			c.bus.Emit(eventbus.Close, CloseDetail{Code: CloseAbnormal, Reason: err.Error()})
		}
		return
	}

	s := &socket{
		gen:  gen,
		ws:   ws,
		send: make(chan outbound, c.opts.SendBuffer),
		done: make(chan struct{}),
	}
	c.sock = s
	c.state = StateConnected
	c.mu.Unlock()

	c.log.Info("websocket connected", "address", addr)

	go c.writePump(s)

	if c.current(gen) {
		c.bus.Emit(eventbus.Open, nil)
	}
	c.readPump(s)
}

// current reports whether gen is still the latest socket generation.
func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// Send queues payload as a text frame. Strings are sent verbatim, anything
// else is encoded as JSON. The frame is dropped when the connection is not
// open.
func (c *Conn) Send(payload any) {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			c.log.Warn("dropping unencodable payload", "error", err)
			return
		}
		data = encoded
	}
	c.enqueue(websocket.TextMessage, data)
}

// SendBinary queues data as a binary frame. The frame is dropped when the
// connection is not open.
func (c *Conn) SendBinary(data []byte) {
	c.enqueue(websocket.BinaryMessage, data)
}

func (c *Conn) enqueue(typ int, data []byte) bool {
	c.mu.Lock()
	s := c.sock
	open := c.state == StateConnected && s != nil
	c.mu.Unlock()

	if !open {
		c.log.Debug("dropping frame, not connected", "bytes", len(data))
		return false
	}

	select {
	case <-s.done:
		return false
	case s.send <- outbound{typ: typ, data: data}:
		return true
	default:
		c.log.Warn("send queue full, dropping frame", "bytes", len(data))
		return false
	}
}

// Close shuts the connection down. The state is disconnected when Close
// returns; CLOSE is emitted once the socket's read goroutine exits.
func (c *Conn) Close() {
	c.mu.Lock()
	s := c.sock
	c.sock = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if s == nil {
		return
	}

	s.closing.Store(true)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.log.Debug("close frame not sent", "error", err)
	}
	s.shutdown()
}

// readPump delivers inbound frames until the socket fails, then reports how
// it ended.
func (c *Conn) readPump(s *socket) {
	defer s.shutdown()

	pongWait := c.opts.PingPeriod * 10 / 9
	s.ws.SetReadLimit(c.opts.ReadLimit)
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, data, err := s.ws.ReadMessage()
		if err != nil {
			c.finish(s, err)
			return
		}
		if s.closing.Load() || !c.current(s.gen) {
			continue
		}
		c.bus.Emit(eventbus.Message, Message{Type: MessageType(typ), Data: data})
	}
}

func (c *Conn) finish(s *socket, err error) {
	c.mu.Lock()
	current := s.gen == c.gen
	if c.sock == s {
		c.sock = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if !current {
		return
	}

	if s.closing.Load() {
		c.log.Info("websocket closed", "address", c.Address())
		c.bus.Emit(eventbus.Close, CloseDetail{Code: CloseNormal, Reason: "client closed"})
		return
	}

	// gorilla reports a dropped TCP connection as a 1006 close error.
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != CloseAbnormal {
		c.log.Info("websocket closed by peer", "code", closeErr.Code, "reason", closeErr.Text)
		c.bus.Emit(eventbus.Close, CloseDetail{Code: closeErr.Code, Reason: closeErr.Text})
		return
	}

	c.log.Warn("websocket error", "error", err)
	c.bus.Emit(eventbus.Error, err)
	if c.current(s.gen) {
		c.bus.Emit(eventbus.Close, CloseDetail{Code: CloseAbnormal, Reason: err.Error()})
	}
}

// writePump drains the send queue and pings the server.
func (c *Conn) writePump(s *socket) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()

	for {
		select {
		case msg := <-s.send:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(msg.typ, msg.data); err != nil {
				c.log.Warn("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			return
		}
	}
}
