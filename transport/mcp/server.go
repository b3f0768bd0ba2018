package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wricardo/roomlink/cipher"
	"github.com/wricardo/roomlink/crypt"
	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/session"
)

const (
	defaultWaitTimeout = 5 * time.Second
	defaultHistorySize = 200
)

// Options configures a Server.
type Options struct {
	// Manager is driven by the tools. Required.
	Manager *session.Manager

	// DefaultAddress is dialed by connect when no address is given.
	DefaultAddress string

	// WaitTimeout bounds how long connect, join_room and leave_room wait for
	// the outcome event.
	WaitTimeout time.Duration

	// HistorySize is the number of events kept for recent_events.
	HistorySize int

	Codec  *cipher.Codec
	Box    *crypt.Box
	Logger *slog.Logger
}

// Server exposes a session.Manager as MCP tools.
type Server struct {
	opts      Options
	manager   *session.Manager
	events    *eventLog
	log       *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server and starts recording manager events.
func NewServer(opts Options) *Server {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts:    opts,
		manager: opts.Manager,
		events:  newEventLog(opts.HistorySize),
		log:     opts.Logger.With("component", "mcp"),
	}

	for _, ch := range eventbus.AllChannels() {
		if ch == eventbus.Message {
			continue
		}
		s.manager.Subscribe(ch, s.events.record)
	}

	s.initMCPServer()
	return s
}

// initMCPServer initializes the MCP server with all tools
func (s *Server) initMCPServer() {
	s.mcpServer = server.NewMCPServer(
		"roomlink",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`roomlink - MCP Interface

Drives one room session against a roomlink-compatible server.

TYPICAL FLOW:
connect -> join_room -> send / recent_events -> leave_room -> close

AVAILABLE TOOLS:
- connect: Open the WebSocket connection
- join_room: Join a room by type name (one room at a time)
- send: Send data to the joined room
- leave_room: Leave the joined room
- close: Close the connection
- list_rooms: List rooms with free capacity for a type name
- status: Connection and room status
- recent_events: Events received by the session, oldest first

Messages from other room members only show up in recent_events.`),
	)

	s.registerTools()
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "connect",
		Description: "Connect to a room server and wait for the connection to open",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"address": map[string]interface{}{
					"type":        "string",
					"description": "WebSocket URL, e.g. ws://localhost:8080/ws (optional)",
				},
			},
		},
	}, s.handleConnect)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "join_room",
		Description: "Join a room by type name and wait for the server to accept",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": map[string]interface{}{
					"type":        "string",
					"description": "Room type name",
				},
				"options": map[string]interface{}{
					"type":        "object",
					"description": "Join options passed to the server (optional)",
				},
			},
			Required: []string{"room"},
		},
	}, s.handleJoinRoom)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "send",
		Description: "Send data to the joined room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"data": map[string]interface{}{
					"type":        "string",
					"description": "JSON value to send; text that is not JSON is sent as a string",
				},
				"transform": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"none", "cipher", "crypt"},
					"description": "Encode the data as text before sending (default none)",
				},
			},
			Required: []string{"data"},
		},
	}, s.handleSend)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "leave_room",
		Description: "Leave the joined room and wait for the server to confirm",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleLeaveRoom)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "close",
		Description: "Close the connection",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleClose)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List rooms with free capacity",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": map[string]interface{}{
					"type":        "string",
					"description": "Room type name (empty lists every type)",
				},
			},
		},
	}, s.handleListRooms)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "status",
		Description: "Get connection and room status",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleStatus)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "recent_events",
		Description: "Get recent session events, oldest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of events (default 20, 0 for all)",
				},
			},
		},
	}, s.handleRecentEvents)
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the tools over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP handles one JSON-RPC message per POST request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	response := s.mcpServer.HandleMessage(r.Context(), body)
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	responseData, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Write(responseData)
}

// await registers one-shot handlers on channels, runs trigger and waits for
// the first of them to fire.
func (s *Server) await(ctx context.Context, channels []string, trigger func()) (eventbus.Event, bool) {
	got := make(chan eventbus.Event, len(channels))
	subs := make([]eventbus.Subscription, 0, len(channels))
	for _, ch := range channels {
		subs = append(subs, s.manager.Bus().Once(ch, func(ev eventbus.Event) {
			got <- ev
		}))
	}
	defer func() {
		for _, sub := range subs {
			s.manager.Unsubscribe(sub)
		}
	}()

	trigger()

	timer := time.NewTimer(s.opts.WaitTimeout)
	defer timer.Stop()

	select {
	case ev := <-got:
		return ev, true
	case <-timer.C:
		return eventbus.Event{}, false
	case <-ctx.Done():
		return eventbus.Event{}, false
	}
}

func (s *Server) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr := request.GetString("address", s.opts.DefaultAddress)
	if addr == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	if s.manager.Connected() {
		return mcp.NewToolResultText(fmt.Sprintf("Already connected to %s", s.manager.Address())), nil
	}

	ev, ok := s.await(ctx, []string{eventbus.Open, eventbus.Close}, func() {
		s.manager.Connect(addr)
	})
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("timed out connecting to %s", addr)), nil
	}
	if ev.Channel == eventbus.Close {
		return mcp.NewToolResultError(fmt.Sprintf("connection to %s closed: %s", addr, session.Describe(ev.Detail))), nil
	}

	s.log.Info("connected", "address", addr)
	return mcp.NewToolResultText(fmt.Sprintf("Connected to %s", addr)), nil
}

func (s *Server) handleJoinRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("room")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var options map[string]any
	if raw, ok := request.GetArguments()["options"].(map[string]any); ok {
		options = raw
	}

	switch {
	case !s.manager.Connected():
		return mcp.NewToolResultError("not connected"), nil
	case s.manager.Joined():
		info, _ := s.manager.CurrentRoom()
		return mcp.NewToolResultError(fmt.Sprintf("already in room %s (%s)", info.ID, info.Name)), nil
	}

	ev, ok := s.await(ctx, []string{eventbus.RoomJoin, eventbus.RoomError, eventbus.Close}, func() {
		s.manager.JoinRoom(name, options)
	})
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("timed out joining %s", name)), nil
	}
	if ev.Channel != eventbus.RoomJoin {
		return mcp.NewToolResultError(fmt.Sprintf("join %s failed: %s", name, session.Describe(ev.Detail))), nil
	}

	return mcp.NewToolResultText("Joined " + session.Describe(ev.Detail)), nil
}

func (s *Server) handleSend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.manager.Joined() {
		return mcp.NewToolResultError("not in a room"), nil
	}

	var data any
	switch transform := request.GetString("transform", "none"); transform {
	case "", "none":
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			data = raw
		}
	case "cipher":
		data = s.codec().Encode(raw)
	case "crypt":
		sealed, err := s.box().Encrypt(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data = sealed
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown transform %q", transform)), nil
	}

	s.manager.Send(data)
	return mcp.NewToolResultText("Sent"), nil
}

func (s *Server) handleLeaveRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, ok := s.manager.CurrentRoom()
	if !ok {
		return mcp.NewToolResultError("not in a room"), nil
	}

	ev, ok := s.await(ctx, []string{eventbus.RoomLeave, eventbus.RoomError, eventbus.Close}, s.manager.LeaveRoom)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("timed out leaving %s", info.ID)), nil
	}
	if ev.Channel != eventbus.RoomLeave {
		return mcp.NewToolResultError(fmt.Sprintf("leave %s: %s", info.ID, session.Describe(ev.Detail))), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Left room %s (%s)", info.ID, session.Describe(ev.Detail))), nil
}

func (s *Server) handleClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.manager.Close()
	return mcp.NewToolResultText("Closed"), nil
}

func (s *Server) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("room", "")
	if !s.manager.Connected() {
		return mcp.NewToolResultError("not connected"), nil
	}

	rooms := s.manager.AvailableRooms(ctx, name)
	if len(rooms) == 0 {
		return mcp.NewToolResultText("No rooms available"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d room(s):\n", len(rooms))
	for _, r := range rooms {
		capacity := "unlimited"
		if r.MaxClients > 0 {
			capacity = fmt.Sprint(r.MaxClients)
		}
		fmt.Fprintf(&b, "- %s (%s) %d/%s clients\n", r.RoomID, r.Name, r.Clients, capacity)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// Status is the status tool result.
type Status struct {
	Connected bool            `json:"connected"`
	Address   string          `json:"address,omitempty"`
	Joined    bool            `json:"joined"`
	RoomID    string          `json:"room_id,omitempty"`
	RoomName  string          `json:"room_name,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
}

func (s *Server) status() Status {
	st := Status{
		Connected: s.manager.Connected(),
		Address:   s.manager.Address(),
	}
	if info, ok := s.manager.CurrentRoom(); ok {
		st.Joined = true
		st.RoomID = info.ID
		st.RoomName = info.Name
		st.SessionID = info.SessionID
	}
	if snap := s.manager.RoomState(); len(snap) > 0 {
		if js, err := snap.JSON(); err == nil {
			st.State = json.RawMessage(js)
		}
	}
	return st
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(s.status(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleRecentEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	events := s.events.recent(limit)
	if len(events) == 0 {
		return mcp.NewToolResultText("No events"), nil
	}

	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "#%d %s %s", ev.Seq, ev.Time.Format("15:04:05.000"), ev.Channel)
		if ev.Detail != "" {
			fmt.Fprintf(&b, " %s", ev.Detail)
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) codec() *cipher.Codec {
	if s.opts.Codec != nil {
		return s.opts.Codec
	}
	c, _ := cipher.New(cipher.DefaultKey)
	return c
}

func (s *Server) box() *crypt.Box {
	if s.opts.Box != nil {
		return s.opts.Box
	}
	b, _ := crypt.New(crypt.DefaultSecret)
	return b
}
