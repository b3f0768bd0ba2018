package room

import (
	"fmt"
	"sync"

	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/transport/websocket"
)

// State is the membership state of a Channel.
type State int

const (
	NotJoined State = iota
	Joined
)

func (s State) String() string {
	switch s {
	case NotJoined:
		return "not_joined"
	case Joined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Info identifies a joined room. It is the detail of ROOM_JOIN.
type Info struct {
	ID        string `json:"room_id"`
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
}

// Channel is the membership of one room.
type Channel struct {
	client *Client
	name   string
	bus    *eventbus.Bus

	mu       sync.Mutex
	state    State
	pending  bool
	stale    bool
	info     Info
	snapshot protocol.Payload
}

// Bus returns the bus room events are emitted on.
func (ch *Channel) Bus() *eventbus.Bus {
	return ch.bus
}

// Name returns the room type name the channel was created for.
func (ch *Channel) Name() string {
	return ch.name
}

func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) Joined() bool {
	return ch.State() == Joined
}

// Stale reports whether the channel has been left, rejected or detached.
func (ch *Channel) Stale() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.stale
}

// Info returns the room assigned by the server. It is zero until joined.
func (ch *Channel) Info() Info {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.info
}

// Snapshot returns the last state snapshot received, or nil.
func (ch *Channel) Snapshot() protocol.Payload {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.snapshot
}

// Join issues a join request. The outcome arrives as ROOM_JOIN or
// ROOM_ERROR.
func (ch *Channel) Join(options map[string]any) error {
	ch.mu.Lock()
	switch {
	case ch.stale:
		ch.mu.Unlock()
		return ErrStaleChannel
	case ch.pending || ch.state == Joined:
		ch.mu.Unlock()
		return ErrAlreadyJoined
	}
	ch.pending = true
	ch.mu.Unlock()

	seq := ch.client.register(ch)
	err := ch.client.send(protocol.Frame{
		Op:      protocol.OpJoinRequest,
		Seq:     seq,
		Room:    ch.name,
		Options: options,
	})
	if err != nil {
		ch.client.unregister(seq)
		ch.mu.Lock()
		ch.pending = false
		ch.mu.Unlock()
		return fmt.Errorf("join %s: %w", ch.name, err)
	}

	ch.client.log.Debug("join requested", "room", ch.name, "seq", seq)
	return nil
}

// Send forwards data to the room. It is dropped unless the channel is
// joined.
func (ch *Channel) Send(data any) {
	rid, ok := ch.active()
	if !ok {
		ch.client.log.Debug("dropping room message, not joined", "room", ch.name)
		return
	}

	payload, err := protocol.Marshal(data)
	if err != nil {
		ch.client.log.Warn("dropping unencodable room message", "room", ch.name, "error", err)
		return
	}

	if err := ch.client.send(protocol.Frame{Op: protocol.OpRoomData, RoomID: rid, Data: payload}); err != nil {
		ch.client.log.Debug("dropping room message", "room", ch.name, "error", err)
	}
}

// Leave asks the server to remove this client from the room. The state
// changes when the server acknowledges with ROOM_LEAVE.
func (ch *Channel) Leave() {
	rid, ok := ch.active()
	if !ok {
		ch.client.log.Debug("leave ignored, not joined", "room", ch.name)
		return
	}

	if err := ch.client.send(protocol.Frame{Op: protocol.OpLeaveRoom, RoomID: rid}); err != nil {
		ch.client.log.Debug("leave not sent", "room", ch.name, "error", err)
	}
}

func (ch *Channel) active() (string, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.info.ID, ch.state == Joined && !ch.stale
}

func (ch *Channel) handleJoin(info Info) {
	ch.mu.Lock()
	if ch.stale {
		ch.mu.Unlock()
		return
	}
	ch.pending = false
	ch.state = Joined
	ch.info = info
	ch.mu.Unlock()

	ch.client.log.Info("joined room", "room", info.Name, "room_id", info.ID, "session", info.SessionID)
	ch.bus.Emit(eventbus.RoomJoin, info)
}

func (ch *Channel) handleError(err error) {
	if !ch.retire() {
		return
	}
	ch.client.log.Warn("room error", "room", ch.name, "error", err)
	ch.bus.Emit(eventbus.RoomError, err)
}

func (ch *Channel) handleLeave(detail websocket.CloseDetail) {
	if !ch.retire() {
		return
	}
	ch.client.log.Info("left room", "room", ch.name, "code", detail.Code)
	ch.bus.Emit(eventbus.RoomLeave, detail)
}

func (ch *Channel) handleMessage(data protocol.Payload) {
	if _, ok := ch.active(); !ok {
		return
	}
	ch.bus.Emit(eventbus.RoomMessage, data)
}

func (ch *Channel) handleState(data protocol.Payload) {
	ch.mu.Lock()
	if ch.state != Joined || ch.stale {
		ch.mu.Unlock()
		return
	}
	ch.snapshot = data
	ch.mu.Unlock()

	ch.bus.Emit(eventbus.RoomState, data)
}

// detach retires the channel without emitting anything.
func (ch *Channel) detach() {
	ch.retire()
}

// retire makes the channel stale. It reports false if it already was.
func (ch *Channel) retire() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.stale {
		return false
	}
	ch.stale = true
	ch.pending = false
	ch.state = NotJoined
	return true
}
