// Package mcp exposes a room session as Model Context Protocol tools.
//
// A Server wraps one session.Manager. Tools that start an asynchronous
// operation wait for its outcome event so an agent gets a definite answer:
//   - connect: dial and wait for OPEN or CLOSE
//   - join_room: join and wait for ROOM_JOIN or ROOM_ERROR
//   - leave_room: leave and wait for ROOM_LEAVE
//   - send: send data to the joined room, optionally cipher or crypt encoded
//   - close: close the connection
//   - list_rooms: query available rooms
//   - status: connection and room status as JSON
//   - recent_events: the bounded event history, oldest first
//
// Every session event except raw MESSAGE frames is kept in a ring buffer so
// room traffic from other members can be read back with recent_events.
//
// Transport Modes:
//
//	// Stdio
//	srv := mcp.NewServer(mcp.Options{Manager: session.New(session.Options{})})
//	srv.ServeStdio()
//
//	// HTTP, one JSON-RPC message per POST
//	router.Handle("/mcp", srv)
package mcp
