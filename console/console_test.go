package console

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/session"
	"github.com/wricardo/roomlink/transport/websocket"
)

func newModel(t *testing.T) Model {
	t.Helper()
	mgr := session.New(session.Options{})
	t.Cleanup(mgr.Close)

	m := New(mgr, "")
	m.now = func() time.Time { return time.Date(2024, 1, 1, 12, 30, 45, 0, time.UTC) }
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func typeLine(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(Model), cmd
}

func lastLine(m Model) string {
	if len(m.lines) == 0 {
		return ""
	}
	return m.lines[len(m.lines)-1]
}

func TestWindowSize(t *testing.T) {
	m := newModel(t)
	if m.viewport.Width != 120 || m.viewport.Height != 37 {
		t.Errorf("Unexpected viewport size %dx%d", m.viewport.Width, m.viewport.Height)
	}
	if m.input.Width != 116 {
		t.Errorf("Unexpected input width %d", m.input.Width)
	}
}

func TestCommandsWhileDisconnected(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"hello", "not in a room"},
		{"/join lobby", "not connected"},
		{"/join", "usage: /join"},
		{"/leave", "not in a room"},
		{"/rooms lobby", "not connected"},
		{"/raw ping", "not connected"},
		{"/connect", "usage: /connect"},
		{"/status", "disconnected"},
		{"/dance", "unknown command /dance"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m := newModel(t)
			m, cmd := typeLine(t, m, tt.line)
			if cmd != nil {
				t.Error("Expected no command")
			}
			if !strings.Contains(lastLine(m), tt.want) {
				t.Errorf("Expected %q in %q", tt.want, lastLine(m))
			}
			if m.input.Value() != "" {
				t.Error("Input should be cleared after enter")
			}
		})
	}
}

func TestHelp(t *testing.T) {
	m := newModel(t)
	m, _ = typeLine(t, m, "/help")

	out := strings.Join(m.lines, "\n")
	for _, cmd := range []string{"/connect", "/join", "/leave", "/rooms", "/raw", "/status", "/quit"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("Help is missing %s", cmd)
		}
	}
}

func TestBlankLineIgnored(t *testing.T) {
	m := newModel(t)
	m, _ = typeLine(t, m, "   ")
	if len(m.lines) != 0 {
		t.Errorf("Expected no output, got %q", m.lines)
	}
}

func TestQuit(t *testing.T) {
	for _, line := range []string{"/quit", "/exit"} {
		t.Run(line, func(t *testing.T) {
			m := newModel(t)
			_, cmd := typeLine(t, m, line)
			if cmd == nil {
				t.Fatal("Expected a quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("Expected tea.QuitMsg")
			}
		})
	}

	t.Run("ctrl+c", func(t *testing.T) {
		m := newModel(t)
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		if cmd == nil {
			t.Fatal("Expected a quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("Expected tea.QuitMsg")
		}
	})
}

func TestEventRendering(t *testing.T) {
	payload, err := protocol.Marshal(map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	tests := []struct {
		name  string
		event eventbus.Event
		want  []string
	}{
		{"open", eventbus.Event{Channel: eventbus.Open}, []string{"12:30:45", "OPEN"}},
		{"room message", eventbus.Event{Channel: eventbus.RoomMessage, Detail: payload}, []string{"ROOM_MESSAGE", `{"n":1}`}},
		{"error", eventbus.Event{Channel: eventbus.Error, Detail: errors.New("dial failed")}, []string{"ERROR", "dial failed"}},
		{"close", eventbus.Event{Channel: eventbus.Close, Detail: websocket.CloseDetail{Code: 1006, Reason: "eof"}}, []string{"CLOSE", "1006"}},
		{"text frame", eventbus.Event{Channel: eventbus.Message, Detail: websocket.Message{Type: websocket.TextMessage, Data: []byte("hi")}}, []string{"MESSAGE", "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t)
			updated, _ := m.Update(EventMsg{Event: tt.event})
			line := lastLine(updated.(Model))
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("Expected %q in %q", want, line)
				}
			}
		})
	}
}

func TestRoomsMessage(t *testing.T) {
	m := newModel(t)

	updated, _ := m.Update(roomsMsg{name: "lobby"})
	m = updated.(Model)
	if !strings.Contains(lastLine(m), "no rooms available for lobby") {
		t.Errorf("Unexpected line %q", lastLine(m))
	}

	updated, _ = m.Update(roomsMsg{name: "", rooms: []protocol.RoomAvailable{
		{RoomID: "ab12", Name: "lobby", Clients: 2, MaxClients: 4},
		{RoomID: "cd34", Name: "arena", Clients: 1},
	}})
	m = updated.(Model)
	out := strings.Join(m.lines, "\n")
	if !strings.Contains(out, "2 room(s) for all types") || !strings.Contains(out, "2/4") || !strings.Contains(out, "1/unlimited") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestLineCap(t *testing.T) {
	m := newModel(t)
	for i := 0; i < maxLines+10; i++ {
		m.appendLine("x")
	}
	if len(m.lines) != maxLines {
		t.Errorf("Expected %d lines, got %d", maxLines, len(m.lines))
	}
}

func TestConnectedSession(t *testing.T) {
	hub := websocket.NewHub(websocket.HubOptions{
		RoomTypes: []websocket.RoomType{{Name: "lobby", MaxClients: 4}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()
	addr := "ws" + strings.TrimPrefix(ts.URL, "http")

	mgr := session.New(session.Options{})
	defer mgr.Close()

	joined := make(chan struct{}, 1)
	mgr.Subscribe(eventbus.RoomJoin, func(eventbus.Event) { joined <- struct{}{} })
	opened := make(chan struct{}, 1)
	mgr.Subscribe(eventbus.Open, func(eventbus.Event) { opened <- struct{}{} })

	m := New(mgr, addr)
	m, _ = typeLine(t, m, "/connect")
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for OPEN")
	}

	m, _ = typeLine(t, m, "/join lobby")
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for ROOM_JOIN")
	}

	m, _ = typeLine(t, m, "/status")
	if !strings.Contains(lastLine(m), "(lobby)") {
		t.Errorf("Expected the room in status, got %q", lastLine(m))
	}
	if !strings.Contains(m.View(), "connected to "+addr) {
		t.Error("Header should show the connection")
	}

	m, _ = typeLine(t, m, `{"n":1}`)
	if !strings.Contains(lastLine(m), `{"n":1}`) {
		t.Errorf("Expected the echoed line, got %q", lastLine(m))
	}

	_, cmd := typeLine(t, m, "/rooms lobby")
	if cmd == nil {
		t.Fatal("Expected a query command")
	}
	raw := cmd()
	msg, ok := raw.(roomsMsg)
	if !ok {
		t.Fatalf("Expected roomsMsg, got %T", raw)
	}
	if len(msg.rooms) != 1 || msg.rooms[0].Clients != 1 {
		t.Errorf("Unexpected rooms %+v", msg.rooms)
	}
}
