package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/transport/websocket"
)

var (
	ErrNotConnected  = errors.New("not connected")
	ErrStaleChannel  = errors.New("room channel is stale")
	ErrAlreadyJoined = errors.New("room channel already joined or joining")
)

// JoinError reports a join rejected by the server.
type JoinError struct {
	Room   string
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join %s: %s", e.Room, e.Reason)
}

// ServerError reports a request the server refused.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server rejected request: " + e.Message
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Conn   websocket.ConnOptions
	Logger *slog.Logger
}

type queryResult struct {
	rooms []protocol.RoomAvailable
	err   error
}

// Client speaks the room protocol over one WebSocket connection.
type Client struct {
	conn *websocket.Conn
	bus  *eventbus.Bus
	log  *slog.Logger

	mu      sync.Mutex
	seq     uint32
	joining map[uint32]*Channel
	joined  map[string]*Channel
	queries map[uint32]chan queryResult
}

// NewClient creates a client with a disconnected connection.
func NewClient(opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Conn.Logger == nil {
		opts.Conn.Logger = logger
	}

	c := &Client{
		conn:    websocket.NewConn(opts.Conn),
		bus:     eventbus.New(),
		log:     logger.With("component", "room"),
		joining: make(map[uint32]*Channel),
		joined:  make(map[string]*Channel),
		queries: make(map[uint32]chan queryResult),
	}

	cb := c.conn.Bus()
	cb.On(eventbus.Open, func(ev eventbus.Event) {
		c.bus.Emit(eventbus.Open, ev.Detail)
	})
	cb.On(eventbus.Error, func(ev eventbus.Event) {
		c.detachAll()
		c.bus.Emit(eventbus.Error, ev.Detail)
	})
	cb.On(eventbus.Close, func(ev eventbus.Event) {
		c.detachAll()
		c.bus.Emit(eventbus.Close, ev.Detail)
	})
	cb.On(eventbus.Message, c.handleMessage)

	return c
}

// Bus returns the bus transport events are re-emitted on.
func (c *Client) Bus() *eventbus.Bus {
	return c.bus
}

// Conn returns the underlying connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Connect dials addr unless already connecting or connected.
func (c *Client) Connect(addr string) *Client {
	c.conn.Connect(addr)
	return c
}

// Connected reports whether the transport is open.
func (c *Client) Connected() bool {
	return c.conn.Connected()
}

// Close closes the transport and detaches every channel and query at once.
func (c *Client) Close() {
	c.conn.Close()
	c.detachAll()
}

// Channel creates a channel for the room type name. Nothing is sent until
// Join is called.
func (c *Client) Channel(name string) *Channel {
	return &Channel{
		client: c,
		name:   name,
		bus:    eventbus.New(),
	}
}

// Join creates a channel for name and issues the join request.
func (c *Client) Join(name string, options map[string]any) (*Channel, error) {
	ch := c.Channel(name)
	if err := ch.Join(options); err != nil {
		return nil, err
	}
	return ch, nil
}

// AvailableRooms asks the server for rooms of type name with free capacity.
// It returns when the reply arrives, ctx is done, or the transport is lost.
func (c *Client) AvailableRooms(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	reply := make(chan queryResult, 1)
	c.mu.Lock()
	seq := c.nextSeq()
	c.queries[seq] = reply
	c.mu.Unlock()

	if err := c.send(protocol.Frame{Op: protocol.OpRoomList, Seq: seq, Room: name}); err != nil {
		c.dropQuery(seq)
		return nil, err
	}

	select {
	case res := <-reply:
		return res.rooms, res.err
	case <-ctx.Done():
		c.dropQuery(seq)
		return nil, ctx.Err()
	}
}

func (c *Client) dropQuery(seq uint32) {
	c.mu.Lock()
	delete(c.queries, seq)
	c.mu.Unlock()
}

// nextSeq returns a fresh request sequence number. Callers hold mu.
func (c *Client) nextSeq() uint32 {
	c.seq++
	if c.seq == 0 {
		c.seq++
	}
	return c.seq
}

func (c *Client) send(f protocol.Frame) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	c.conn.SendBinary(data)
	return nil
}

// detachAll marks every channel stale and fails every pending query.
func (c *Client) detachAll() {
	c.mu.Lock()
	channels := make([]*Channel, 0, len(c.joining)+len(c.joined))
	for _, ch := range c.joining {
		channels = append(channels, ch)
	}
	for _, ch := range c.joined {
		channels = append(channels, ch)
	}
	queries := c.queries
	c.joining = make(map[uint32]*Channel)
	c.joined = make(map[string]*Channel)
	c.queries = make(map[uint32]chan queryResult)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.detach()
	}
	for _, reply := range queries {
		reply <- queryResult{err: ErrNotConnected}
	}
}

func (c *Client) handleMessage(ev eventbus.Event) {
	c.bus.Emit(eventbus.Message, ev.Detail)

	msg, ok := ev.Detail.(websocket.Message)
	if !ok || msg.Type != websocket.BinaryMessage {
		return
	}

	f, err := protocol.Decode(msg.Data)
	if err != nil {
		c.log.Debug("ignoring undecodable binary frame", "error", err)
		return
	}
	c.route(f)
}

func (c *Client) route(f protocol.Frame) {
	switch f.Op {
	case protocol.OpJoinRoom:
		c.mu.Lock()
		ch := c.joining[f.Seq]
		delete(c.joining, f.Seq)
		if ch != nil {
			c.joined[f.RoomID] = ch
		}
		c.mu.Unlock()

		if ch == nil {
			c.log.Debug("join reply for unknown request", "seq", f.Seq)
			return
		}
		ch.handleJoin(Info{ID: f.RoomID, Name: f.Room, SessionID: f.Session})

	case protocol.OpJoinError:
		c.mu.Lock()
		ch := c.joining[f.Seq]
		delete(c.joining, f.Seq)
		c.mu.Unlock()

		if ch != nil {
			ch.handleError(&JoinError{Room: ch.name, Reason: f.Error})
		}

	case protocol.OpLeaveRoom:
		if ch := c.takeJoined(f.RoomID); ch != nil {
			ch.handleLeave(websocket.CloseDetail{Code: f.Code, Reason: f.Error})
		}

	case protocol.OpRoomData:
		if ch := c.lookupJoined(f.RoomID); ch != nil {
			ch.handleMessage(f.Data)
		}

	case protocol.OpRoomState:
		if ch := c.lookupJoined(f.RoomID); ch != nil {
			ch.handleState(f.Data)
		}

	case protocol.OpRoomList:
		c.completeQuery(f.Seq, f)

	case protocol.OpBadRequest:
		if f.RoomID != "" {
			if ch := c.takeJoined(f.RoomID); ch != nil {
				ch.handleError(&ServerError{Message: f.Error})
				return
			}
		}
		if f.Seq != 0 && c.completeQuery(f.Seq, f) {
			return
		}
		c.log.Warn("server rejected request", "error", f.Error)

	default:
		c.log.Debug("ignoring frame", "op", f.Op)
	}
}

func (c *Client) lookupJoined(rid string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[rid]
}

func (c *Client) takeJoined(rid string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.joined[rid]
	delete(c.joined, rid)
	return ch
}

// completeQuery hands f to the query waiting on seq, if any.
func (c *Client) completeQuery(seq uint32, f protocol.Frame) bool {
	c.mu.Lock()
	reply, ok := c.queries[seq]
	delete(c.queries, seq)
	c.mu.Unlock()

	if !ok {
		return false
	}

	if f.Error != "" {
		reply <- queryResult{err: &ServerError{Message: f.Error}}
		return true
	}
	rooms := f.Rooms
	if rooms == nil {
		rooms = []protocol.RoomAvailable{}
	}
	reply <- queryResult{rooms: rooms}
	return true
}

// register records ch as waiting for the reply to seq.
func (c *Client) register(ch *Channel) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.nextSeq()
	c.joining[seq] = ch
	return seq
}

func (c *Client) unregister(seq uint32) {
	c.mu.Lock()
	delete(c.joining, seq)
	c.mu.Unlock()
}
