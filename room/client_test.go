package room

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wricardo/roomlink/eventbus"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/transport/websocket"
)

func startHub(t *testing.T) string {
	t.Helper()

	hub := websocket.NewHub(websocket.HubOptions{
		RoomTypes: []websocket.RoomType{{Name: "lobby", MaxClients: 4}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func record(bus *eventbus.Bus, channels ...string) chan eventbus.Event {
	events := make(chan eventbus.Event, 64)
	for _, ch := range channels {
		bus.On(ch, func(ev eventbus.Event) { events <- ev })
	}
	return events
}

func expectEvent(t *testing.T, events chan eventbus.Event, channel string) eventbus.Event {
	t.Helper()

	select {
	case ev := <-events:
		if ev.Channel != channel {
			t.Fatalf("Expected %s event, got %s (%v)", channel, ev.Channel, ev.Detail)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("No %s event within timeout", channel)
	}
	return eventbus.Event{}
}

func expectNoEvent(t *testing.T, events chan eventbus.Event, wait time.Duration) {
	t.Helper()

	select {
	case ev := <-events:
		t.Fatalf("Unexpected %s event (%v)", ev.Channel, ev.Detail)
	case <-time.After(wait):
	}
}

func connectClient(t *testing.T, addr string) *Client {
	t.Helper()

	c := NewClient(ClientOptions{})
	opened := make(chan struct{}, 1)
	c.Bus().Once(eventbus.Open, func(eventbus.Event) { opened <- struct{}{} })
	c.Connect(addr)

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("Client did not connect")
	}
	t.Cleanup(c.Close)
	return c
}

func TestChannelLifecycle(t *testing.T) {
	addr := startHub(t)
	client := connectClient(t, addr)

	ch := client.Channel("lobby")
	events := record(ch.Bus(), eventbus.RoomChannels()...)

	if ch.State() != NotJoined {
		t.Fatalf("Expected new channel to be %s, got %s", NotJoined, ch.State())
	}

	if err := ch.Join(map[string]any{"nickname": "tester"}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	ev := expectEvent(t, events, eventbus.RoomJoin)
	info := ev.Detail.(Info)
	if info.Name != "lobby" || info.ID == "" || info.SessionID == "" {
		t.Errorf("Unexpected room info: %+v", info)
	}
	if !ch.Joined() {
		t.Error("Expected channel to be joined after ROOM_JOIN")
	}
	if ch.Info() != info {
		t.Errorf("Expected Info() %+v, got %+v", info, ch.Info())
	}

	expectEvent(t, events, eventbus.RoomState)
	if ch.Snapshot() == nil {
		t.Error("Expected snapshot to be kept")
	}

	t.Run("join twice is refused", func(t *testing.T) {
		if err := ch.Join(nil); !errors.Is(err, ErrAlreadyJoined) {
			t.Errorf("Expected ErrAlreadyJoined, got %v", err)
		}
	})

	t.Run("send delivers the exact object", func(t *testing.T) {
		ch.Send(map[string]any{"type": "ping", "n": 3})

		ev := expectEvent(t, events, eventbus.RoomMessage)
		var got map[string]any
		if err := ev.Detail.(protocol.Payload).Decode(&got); err != nil {
			t.Fatalf("Failed to decode message: %v", err)
		}
		if got["type"] != "ping" || got["n"] != uint64(3) {
			t.Errorf("Unexpected message: %v", got)
		}

		expectEvent(t, events, eventbus.RoomState)
	})

	ch.Leave()
	if !ch.Joined() {
		t.Error("Leave should not change state before the server acknowledges")
	}

	ev = expectEvent(t, events, eventbus.RoomLeave)
	if detail := ev.Detail.(websocket.CloseDetail); detail.Code != websocket.CloseNormal {
		t.Errorf("Expected leave code %d, got %d", websocket.CloseNormal, detail.Code)
	}
	if ch.State() != NotJoined || !ch.Stale() {
		t.Errorf("Expected stale, not joined channel, got %s stale=%v", ch.State(), ch.Stale())
	}

	t.Run("stale channel drops everything", func(t *testing.T) {
		ch.Send("late")
		ch.Leave()
		if err := ch.Join(nil); !errors.Is(err, ErrStaleChannel) {
			t.Errorf("Expected ErrStaleChannel, got %v", err)
		}
		expectNoEvent(t, events, 100*time.Millisecond)
	})
}

func TestChannelJoinRejected(t *testing.T) {
	addr := startHub(t)
	client := connectClient(t, addr)

	ch := client.Channel("nowhere")
	events := record(ch.Bus(), eventbus.RoomChannels()...)

	if err := ch.Join(nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	ev := expectEvent(t, events, eventbus.RoomError)
	var joinErr *JoinError
	if !errors.As(ev.Detail.(error), &joinErr) {
		t.Fatalf("Expected *JoinError, got %T", ev.Detail)
	}
	if joinErr.Room != "nowhere" {
		t.Errorf("Expected room 'nowhere', got %q", joinErr.Room)
	}
	if !ch.Stale() || ch.Joined() {
		t.Error("Rejected channel should be stale and not joined")
	}
}

func TestChannelPreconditions(t *testing.T) {
	client := NewClient(ClientOptions{})
	ch := client.Channel("lobby")
	events := record(ch.Bus(), eventbus.RoomChannels()...)

	if err := ch.Join(nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	ch.Send(map[string]string{"type": "ping"})
	ch.Leave()

	expectNoEvent(t, events, 50*time.Millisecond)

	if ch.Stale() {
		t.Error("A refused join should not make the channel stale")
	}
}

func TestClientCloseDetachesChannels(t *testing.T) {
	addr := startHub(t)
	client := connectClient(t, addr)
	transport := record(client.Bus(), eventbus.Close, eventbus.Error)

	ch := client.Channel("lobby")
	events := record(ch.Bus(), eventbus.RoomJoin, eventbus.RoomError, eventbus.RoomLeave)
	if err := ch.Join(nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	expectEvent(t, events, eventbus.RoomJoin)

	client.Close()

	if ch.Joined() || !ch.Stale() {
		t.Error("Close should detach joined channels immediately")
	}
	expectEvent(t, transport, eventbus.Close)
	expectNoEvent(t, events, 50*time.Millisecond)
}

func TestClientAvailableRooms(t *testing.T) {
	addr := startHub(t)
	host := connectClient(t, addr)
	guest := connectClient(t, addr)

	ch := host.Channel("lobby")
	joined := record(ch.Bus(), eventbus.RoomJoin)
	if err := ch.Join(nil); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	info := expectEvent(t, joined, eventbus.RoomJoin).Detail.(Info)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rooms, err := guest.AvailableRooms(ctx, "lobby")
	if err != nil {
		t.Fatalf("AvailableRooms failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0].RoomID != info.ID || rooms[0].Clients != 1 || rooms[0].MaxClients != 4 {
		t.Errorf("Unexpected rooms: %+v", rooms)
	}

	t.Run("unknown name is empty", func(t *testing.T) {
		rooms, err := guest.AvailableRooms(ctx, "nowhere")
		if err != nil {
			t.Fatalf("AvailableRooms failed: %v", err)
		}
		if rooms == nil || len(rooms) != 0 {
			t.Errorf("Expected empty non-nil list, got %#v", rooms)
		}
	})

	t.Run("disconnected", func(t *testing.T) {
		offline := NewClient(ClientOptions{})
		if _, err := offline.AvailableRooms(ctx, "lobby"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("Expected ErrNotConnected, got %v", err)
		}
	})
}

func TestClientReemitsMessages(t *testing.T) {
	addr := startHub(t)
	client := connectClient(t, addr)
	messages := record(client.Bus(), eventbus.Message)

	client.Conn().Send("echo me")

	ev := expectEvent(t, messages, eventbus.Message)
	if msg := ev.Detail.(websocket.Message); msg.Text() != "echo me" {
		t.Errorf("Expected echo, got %q", msg.Text())
	}
}

func TestJoinErrorMessage(t *testing.T) {
	err := &JoinError{Room: "lobby", Reason: "full"}
	if err.Error() != "join lobby: full" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}
