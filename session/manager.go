package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/room"
	"github.com/wricardo/roomlink/transport/websocket"
)

// Options configures a Manager.
type Options struct {
	Conn websocket.ConnOptions

	// QueryTimeout bounds AvailableRooms. Zero leaves it to the caller's
	// context.
	QueryTimeout time.Duration

	Logger *slog.Logger
}

// Manager handles the connection and room lifecycle
type Manager struct {
	opts Options
	bus  *eventbus.Bus
	log  *slog.Logger

	mu        sync.Mutex
	client    *room.Client
	channel   *room.Channel
	subs      []eventbus.Subscription
	connected bool
	joined    bool
}

// New creates a disconnected manager.
func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		opts: opts,
		bus:  eventbus.New(),
		log:  opts.Logger.With("component", "session"),
	}
}

// Bus returns the bus every event is re-emitted on.
func (m *Manager) Bus() *eventbus.Bus {
	return m.bus
}

// Subscribe registers handler for channel.
func (m *Manager) Subscribe(channel string, handler eventbus.Handler) eventbus.Subscription {
	return m.bus.On(channel, handler)
}

// Unsubscribe removes a registration made with Subscribe.
func (m *Manager) Unsubscribe(sub eventbus.Subscription) {
	m.bus.Off(sub)
}

// Connected reports whether the transport is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Joined reports whether a room is joined.
func (m *Manager) Joined() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined
}

// CurrentRoom returns the joined room.
func (m *Manager) CurrentRoom() (room.Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.joined || m.channel == nil {
		return room.Info{}, false
	}
	return m.channel.Info(), true
}

// RoomState returns the last state snapshot of the joined room, or nil.
func (m *Manager) RoomState() protocol.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.joined || m.channel == nil {
		return nil
	}
	return m.channel.Snapshot()
}

// Address returns the address of the last Connect call.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return ""
	}
	return m.client.Conn().Address()
}

// Connect dials addr. The client is created on first use and reused after
// Close. Connect is a no-op while a connection is open or opening.
func (m *Manager) Connect(addr string) *Manager {
	m.mu.Lock()
	if m.client == nil {
		m.client = room.NewClient(room.ClientOptions{
			Conn:   m.opts.Conn,
			Logger: m.opts.Logger,
		})
		cb := m.client.Bus()
		cb.On(eventbus.Open, m.onOpen)
		cb.On(eventbus.Error, m.onDisconnect)
		cb.On(eventbus.Close, m.onDisconnect)
		cb.On(eventbus.Message, m.forward)
	}
	c := m.client
	m.mu.Unlock()

	c.Connect(addr)
	return m
}

// JoinRoom joins a room of type name. It does nothing unless connected and
// not already joined or joining.
func (m *Manager) JoinRoom(name string, options map[string]any) {
	m.mu.Lock()
	switch {
	case m.client == nil || !m.connected:
		m.mu.Unlock()
		m.log.Debug("join ignored, not connected", "room", name)
		return
	case m.joined || m.channel != nil:
		m.mu.Unlock()
		m.log.Debug("join ignored, already in a room", "room", name)
		return
	}

	ch := m.client.Channel(name)
	cb := ch.Bus()
	m.channel = ch
	m.subs = []eventbus.Subscription{
		cb.On(eventbus.RoomJoin, func(ev eventbus.Event) { m.onRoomJoin(ch, ev) }),
		cb.On(eventbus.RoomError, func(ev eventbus.Event) { m.onRoomEnd(ch, ev) }),
		cb.On(eventbus.RoomLeave, func(ev eventbus.Event) { m.onRoomEnd(ch, ev) }),
		cb.On(eventbus.RoomMessage, func(ev eventbus.Event) { m.onRoomData(ch, ev) }),
		cb.On(eventbus.RoomState, func(ev eventbus.Event) { m.onRoomData(ch, ev) }),
	}
	m.mu.Unlock()

	if err := ch.Join(options); err != nil {
		m.log.Debug("join ignored", "room", name, "error", err)
		m.mu.Lock()
		if m.channel == ch {
			m.dropChannel()
		}
		m.mu.Unlock()
	}
}

// Send forwards data to the joined room. It does nothing unless joined.
func (m *Manager) Send(data any) {
	ch := m.joinedChannel()
	if ch == nil {
		m.log.Debug("send ignored, not in a room")
		return
	}
	ch.Send(data)
}

// LeaveRoom asks to leave the joined room. It does nothing unless joined.
// Joined() stays true until ROOM_LEAVE arrives.
func (m *Manager) LeaveRoom() {
	ch := m.joinedChannel()
	if ch == nil {
		m.log.Debug("leave ignored, not in a room")
		return
	}
	ch.Leave()
}

// SendRaw sends payload over the transport outside of any room.
func (m *Manager) SendRaw(payload any) {
	if c := m.openClient(); c != nil {
		c.Conn().Send(payload)
	}
}

// SendBinary sends data over the transport outside of any room.
func (m *Manager) SendBinary(data []byte) {
	if c := m.openClient(); c != nil {
		c.Conn().SendBinary(data)
	}
}

// Close closes the transport. Connected and Joined are false when Close
// returns; CLOSE is emitted once the socket has shut down.
func (m *Manager) Close() {
	m.mu.Lock()
	c := m.client
	m.connected = false
	m.joined = false
	m.dropChannel()
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

// AvailableRooms lists joinable rooms of type name. It returns an empty list
// when disconnected and when the query fails or times out.
func (m *Manager) AvailableRooms(ctx context.Context, name string) []protocol.RoomAvailable {
	empty := []protocol.RoomAvailable{}

	c := m.openClient()
	if c == nil {
		return empty
	}

	if m.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.QueryTimeout)
		defer cancel()
	}

	rooms, err := c.AvailableRooms(ctx, name)
	if err != nil {
		m.log.Debug("room query failed", "room", name, "error", err)
		return empty
	}
	if rooms == nil {
		return empty
	}
	return rooms
}

func (m *Manager) openClient() *room.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || !m.connected {
		return nil
	}
	return m.client
}

func (m *Manager) joinedChannel() *room.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.joined {
		return nil
	}
	return m.channel
}

// dropChannel forgets the current channel. Callers hold mu.
func (m *Manager) dropChannel() {
	if m.channel == nil {
		return
	}
	cb := m.channel.Bus()
	for _, sub := range m.subs {
		cb.Off(sub)
	}
	m.channel = nil
	m.subs = nil
}

func (m *Manager) onOpen(ev eventbus.Event) {
	m.mu.Lock()
	if m.client == nil || !m.client.Connected() {
		m.mu.Unlock()
		m.log.Debug("dropping stale open")
		return
	}
	m.connected = true
	m.mu.Unlock()

	m.bus.Emit(ev.Channel, ev.Detail)
}

func (m *Manager) onDisconnect(ev eventbus.Event) {
	m.mu.Lock()
	m.connected = false
	m.joined = false
	m.dropChannel()
	m.mu.Unlock()

	m.bus.Emit(ev.Channel, ev.Detail)
}

func (m *Manager) forward(ev eventbus.Event) {
	m.bus.Emit(ev.Channel, ev.Detail)
}

func (m *Manager) onRoomJoin(ch *room.Channel, ev eventbus.Event) {
	m.mu.Lock()
	if ch != m.channel || !m.connected {
		m.mu.Unlock()
		m.log.Debug("dropping stale join", "room", ch.Name())
		return
	}
	m.joined = true
	m.mu.Unlock()

	m.bus.Emit(ev.Channel, ev.Detail)
}

// onRoomEnd handles ROOM_ERROR and ROOM_LEAVE.
func (m *Manager) onRoomEnd(ch *room.Channel, ev eventbus.Event) {
	m.mu.Lock()
	if ch != m.channel {
		m.mu.Unlock()
		return
	}
	m.joined = false
	m.dropChannel()
	m.mu.Unlock()

	m.bus.Emit(ev.Channel, ev.Detail)
}

func (m *Manager) onRoomData(ch *room.Channel, ev eventbus.Event) {
	m.mu.Lock()
	current := ch == m.channel && m.joined
	m.mu.Unlock()

	if current {
		m.bus.Emit(ev.Channel, ev.Detail)
	}
}
