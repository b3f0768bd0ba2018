// Package session provides the connection manager for roomlink.
//
// A Manager composes one room client and at most one joined room and
// enforces the legal call sequence:
//
//	Disconnected --Connect/OPEN--> Connected --JoinRoom/ROOM_JOIN--> Joined
//	Joined --LeaveRoom/ROOM_LEAVE, ROOM_ERROR--> Connected
//	any --CLOSE, ERROR, Close--> Disconnected (and not joined)
//
// Calls made in the wrong state (joining before the connection opens,
// sending while not joined, joining twice) are silently ignored. Nothing is
// returned and nothing is emitted; the call is logged at debug level.
//
// Every transport and room event is re-emitted on the manager's bus after
// the manager has updated its own flags, so a handler for ROOM_LEAVE already
// sees Joined() == false. Events from a room the manager has already
// abandoned are dropped.
//
// Construct one Manager at startup and Close it at shutdown:
//
//	m := session.New(session.Options{QueryTimeout: 5 * time.Second})
//	defer m.Close()
//
//	m.Subscribe(eventbus.Open, func(eventbus.Event) {
//		m.JoinRoom("lobby", nil)
//	})
//	m.Subscribe(eventbus.RoomMessage, func(ev eventbus.Event) {
//		// ev.Detail is a protocol.Payload
//	})
//	m.Connect("ws://localhost:8080/ws")
package session
