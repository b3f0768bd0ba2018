package websocket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/roomlink/protocol"
)

var ErrHubStopped = errors.New("hub stopped")

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// RoomType declares a room name clients may join.
type RoomType struct {
	Name string `yaml:"name" json:"name"`

	// MaxClients caps membership of each room of this type. Zero means no
	// cap.
	MaxClients int `yaml:"max_clients" json:"max_clients"`
}

// HubOptions configures a Hub.
type HubOptions struct {
	RoomTypes []RoomType

	// AllowedOrigins lists origins accepted by the upgrader. Empty allows
	// all origins.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Snapshot is the room state broadcast to members after every change.
type Snapshot struct {
	Clients  []string `cbor:"clients" json:"clients"`
	Messages int      `cbor:"messages" json:"messages"`
}

// hubRoom is one live room. Only the hub goroutine touches it.
type hubRoom struct {
	id       string
	name     string
	max      int
	members  []*Peer
	messages int
	created  time.Time
}

func (r *hubRoom) has(p *Peer) bool {
	return slices.Contains(r.members, p)
}

func (r *hubRoom) full() bool {
	return r.max > 0 && len(r.members) >= r.max
}

func (r *hubRoom) remove(p *Peer) {
	r.members = slices.DeleteFunc(r.members, func(m *Peer) bool { return m == p })
}

func (r *hubRoom) snapshot() Snapshot {
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		ids = append(ids, m.id)
	}
	return Snapshot{Clients: ids, Messages: r.messages}
}

func (r *hubRoom) available() protocol.RoomAvailable {
	return protocol.RoomAvailable{
		RoomID:     r.id,
		Name:       r.name,
		Clients:    len(r.members),
		MaxClients: r.max,
		Metadata: map[string]string{
			"created_at": r.created.UTC().Format(time.RFC3339),
		},
	}
}

// Peer is one WebSocket client of the hub.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan outbound
	id   string
}

// ID returns the session id assigned to the peer.
func (p *Peer) ID() string {
	return p.id
}

type inbound struct {
	peer *Peer
	typ  int
	data []byte
}

type roomQuery struct {
	name  string
	reply chan []protocol.RoomAvailable
}

// Hub maintains the set of rooms and the peers joined to them.
type Hub struct {
	types    map[string]RoomType
	upgrader websocket.Upgrader
	log      *slog.Logger

	// Owned by the Run goroutine.
	peers map[*Peer]bool
	rooms map[string]*hubRoom

	// Inbound frames from peers
	inbound chan inbound

	// Register requests from peers
	register chan *Peer

	// Unregister requests from peers
	unregister chan *Peer

	queries chan roomQuery
	done    chan struct{}
}

// NewHub creates a new room hub.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	types := make(map[string]RoomType, len(opts.RoomTypes))
	for _, rt := range opts.RoomTypes {
		types[rt.Name] = rt
	}

	h := &Hub{
		types:      types,
		log:        logger.With("component", "hub"),
		peers:      make(map[*Peer]bool),
		rooms:      make(map[string]*hubRoom),
		inbound:    make(chan inbound),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		queries:    make(chan roomQuery),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's event loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for p := range h.peers {
			close(p.send)
		}
		h.peers = make(map[*Peer]bool)
		h.rooms = make(map[string]*hubRoom)
	}()

	for {
		select {
		case p := <-h.register:
			h.registerPeer(p)

		case p := <-h.unregister:
			h.unregisterPeer(p)

		case in := <-h.inbound:
			h.handle(in)

		case q := <-h.queries:
			q.reply <- h.available(q.name)

		case <-ctx.Done():
			h.log.Info("hub stopped", "peers", len(h.peers), "rooms", len(h.rooms))
			return
		}
	}
}

// ServeWS upgrades the request and attaches the peer to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	p := &Peer{
		hub:  h,
		conn: conn,
		send: make(chan outbound, defaultSendBuffer),
		id:   generateID(),
	}

	select {
	case h.register <- p:
	case <-h.done:
		conn.Close()
		return
	}

	go p.writePump()
	go p.readPump()
}

// Rooms lists rooms with free capacity. An empty name lists every room type.
func (h *Hub) Rooms(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
	q := roomQuery{name: name, reply: make(chan []protocol.RoomAvailable, 1)}

	select {
	case h.queries <- q:
	case <-h.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case rooms := <-q.reply:
		return rooms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RoomTypes returns the declared room types sorted by name.
func (h *Hub) RoomTypes() []RoomType {
	types := make([]RoomType, 0, len(h.types))
	for _, rt := range h.types {
		types = append(types, rt)
	}
	slices.SortFunc(types, func(a, b RoomType) int { return strings.Compare(a.Name, b.Name) })
	return types
}

func (h *Hub) registerPeer(p *Peer) {
	h.peers[p] = true
	h.log.Info("peer registered", "peer", p.id, "peers", len(h.peers))
}

func (h *Hub) unregisterPeer(p *Peer) {
	if !h.peers[p] {
		return
	}
	delete(h.peers, p)
	close(p.send)

	for _, r := range h.roomsOf(p) {
		h.removeMember(r, p)
	}

	h.log.Info("peer unregistered", "peer", p.id, "peers", len(h.peers))
}

func (h *Hub) roomsOf(p *Peer) []*hubRoom {
	var rooms []*hubRoom
	for _, r := range h.rooms {
		if r.has(p) {
			rooms = append(rooms, r)
		}
	}
	return rooms
}

// removeMember drops p from r, deleting the room once it is empty.
func (h *Hub) removeMember(r *hubRoom, p *Peer) {
	r.remove(p)
	if len(r.members) == 0 {
		delete(h.rooms, r.id)
		h.log.Info("room disposed", "room", r.name, "room_id", r.id)
		return
	}
	h.broadcastState(r)
}

func (h *Hub) handle(in inbound) {
	if !h.peers[in.peer] {
		return
	}

	if in.typ == websocket.TextMessage {
		h.deliver(in.peer, outbound{typ: websocket.TextMessage, data: in.data})
		return
	}

	f, err := protocol.Decode(in.data)
	if err != nil {
		h.reply(in.peer, protocol.Frame{Op: protocol.OpBadRequest, Error: err.Error()})
		return
	}

	switch f.Op {
	case protocol.OpJoinRequest:
		h.join(in.peer, f)
	case protocol.OpLeaveRoom:
		h.leave(in.peer, f)
	case protocol.OpRoomData:
		h.relay(in.peer, f)
	case protocol.OpRoomList:
		h.reply(in.peer, protocol.Frame{
			Op:    protocol.OpRoomList,
			Seq:   f.Seq,
			Room:  f.Room,
			Rooms: h.available(f.Room),
		})
	default:
		h.reply(in.peer, protocol.Frame{
			Op:    protocol.OpBadRequest,
			Seq:   f.Seq,
			Error: fmt.Sprintf("unsupported op %s", f.Op),
		})
	}
}

func (h *Hub) join(p *Peer, f protocol.Frame) {
	rt, ok := h.types[f.Room]
	if !ok {
		h.reply(p, protocol.Frame{
			Op:    protocol.OpJoinError,
			Seq:   f.Seq,
			Error: fmt.Sprintf("no room type named %q", f.Room),
		})
		return
	}

	var target *hubRoom
	if create, _ := f.Options["create"].(bool); !create {
		target = h.findRoom(rt.Name, p)
	}
	if target == nil {
		target = &hubRoom{
			id:      generateID(),
			name:    rt.Name,
			max:     rt.MaxClients,
			created: time.Now(),
		}
		h.rooms[target.id] = target
		h.log.Info("room created", "room", target.name, "room_id", target.id)
	}

	target.members = append(target.members, p)
	h.log.Info("peer joined room", "peer", p.id, "room", target.name, "room_id", target.id, "clients", len(target.members))

	h.reply(p, protocol.Frame{
		Op:      protocol.OpJoinRoom,
		Seq:     f.Seq,
		Room:    target.name,
		RoomID:  target.id,
		Session: p.id,
	})
	h.broadcastState(target)
}

// findRoom returns the oldest room named name that p can still join.
func (h *Hub) findRoom(name string, p *Peer) *hubRoom {
	var found *hubRoom
	for _, r := range h.rooms {
		if r.name != name || r.full() || r.has(p) {
			continue
		}
		if found == nil || r.created.Before(found.created) {
			found = r
		}
	}
	return found
}

func (h *Hub) leave(p *Peer, f protocol.Frame) {
	r, ok := h.rooms[f.RoomID]
	if !ok || !r.has(p) {
		h.reply(p, protocol.Frame{Op: protocol.OpBadRequest, RoomID: f.RoomID, Error: "not a member of this room"})
		return
	}

	h.reply(p, protocol.Frame{Op: protocol.OpLeaveRoom, RoomID: r.id, Code: CloseNormal})
	h.log.Info("peer left room", "peer", p.id, "room_id", r.id)
	h.removeMember(r, p)
}

func (h *Hub) relay(p *Peer, f protocol.Frame) {
	r, ok := h.rooms[f.RoomID]
	if !ok || !r.has(p) {
		h.reply(p, protocol.Frame{Op: protocol.OpBadRequest, RoomID: f.RoomID, Error: "not a member of this room"})
		return
	}

	r.messages++
	h.broadcast(r, protocol.Frame{Op: protocol.OpRoomData, RoomID: r.id, Data: f.Data})
	h.broadcastState(r)
}

func (h *Hub) available(name string) []protocol.RoomAvailable {
	rooms := make([]protocol.RoomAvailable, 0)
	for _, r := range h.rooms {
		if name != "" && r.name != name {
			continue
		}
		if r.full() {
			continue
		}
		rooms = append(rooms, r.available())
	}
	slices.SortFunc(rooms, func(a, b protocol.RoomAvailable) int {
		return strings.Compare(a.RoomID, b.RoomID)
	})
	return rooms
}

func (h *Hub) broadcastState(r *hubRoom) {
	data, err := protocol.Marshal(r.snapshot())
	if err != nil {
		h.log.Error("failed to encode room state", "room_id", r.id, "error", err)
		return
	}
	h.broadcast(r, protocol.Frame{Op: protocol.OpRoomState, RoomID: r.id, Data: data})
}

// broadcast sends a frame to all members of a room
func (h *Hub) broadcast(r *hubRoom, f protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		h.log.Error("failed to encode broadcast", "op", f.Op, "error", err)
		return
	}
	for _, m := range slices.Clone(r.members) {
		h.deliver(m, outbound{typ: websocket.BinaryMessage, data: data})
	}
}

func (h *Hub) reply(p *Peer, f protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		h.log.Error("failed to encode reply", "op", f.Op, "error", err)
		return
	}
	h.deliver(p, outbound{typ: websocket.BinaryMessage, data: data})
}

func (h *Hub) deliver(p *Peer, msg outbound) {
	if !h.peers[p] {
		return
	}
	select {
	case p.send <- msg:
	default:
		// Peer's send channel is full, drop it
		h.log.Warn("peer too slow, disconnecting", "peer", p.id)
		h.unregisterPeer(p)
	}
}

// readPump pumps frames from the WebSocket connection to the hub
func (p *Peer) readPump() {
	defer func() {
		select {
		case p.hub.unregister <- p:
		case <-p.hub.done:
		}
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.hub.log.Warn("websocket error", "peer", p.id, "error", err)
			}
			return
		}

		select {
		case p.hub.inbound <- inbound{peer: p, typ: typ, data: data}:
		case <-p.hub.done:
			return
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection
func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			if err := p.conn.WriteMessage(msg.typ, msg.data); err != nil {
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// generateID creates a random 8-character hex id.
func generateID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}
