// Package websocket provides the WebSocket transport for roomlink.
//
// The websocket package implements both ends of the wire:
//   - Conn, a client connection that projects its lifecycle onto an event bus
//   - Hub, a development room server that speaks the room protocol
//
// Client Connection:
//
// A Conn owns at most one socket at a time. Connect dials in the background
// and returns immediately; the outcome is reported on the connection's bus:
//
//	OPEN     the handshake completed
//	ERROR    the dial or a read failed (detail is the error)
//	CLOSE    the socket is gone (detail is a CloseDetail)
//	MESSAGE  a frame arrived (detail is a Message, undecoded)
//
// Send and SendBinary never block. Frames are queued for a dedicated write
// goroutine and dropped when the connection is not open or the queue is
// full. Close forces the state to disconnected at once; the CLOSE event for
// that socket follows from its read goroutine.
//
// Every event for one socket is emitted from a single goroutine, so handlers
// observe them in the order they happened. Events from a socket that has
// been replaced by a later Connect are discarded.
//
// Usage:
//
//	conn := websocket.NewConn(websocket.ConnOptions{})
//	conn.Bus().On(eventbus.Open, func(eventbus.Event) {
//		conn.Send(map[string]string{"type": "hello"})
//	})
//	conn.Connect("ws://localhost:8080/ws")
//
// Room Server:
//
// The Hub uses a hub-and-spoke model. A single goroutine (Run) owns every
// room and every peer; peers talk to it over channels. Each peer has a read
// goroutine that forwards frames to the hub and a write goroutine that
// drains its send queue and keeps the connection alive with pings.
//
//	hub := websocket.NewHub(websocket.HubOptions{
//		RoomTypes: []websocket.RoomType{{Name: "lobby", MaxClients: 8}},
//	})
//	go hub.Run(ctx)
//	http.HandleFunc("/ws", hub.ServeWS)
//
// Binary frames are decoded as room protocol frames. Text frames are echoed
// back to the sender unchanged.
package websocket
