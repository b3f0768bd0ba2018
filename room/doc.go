// Package room implements the client side of the room protocol.
//
// A Client owns one WebSocket connection and multiplexes any number of room
// Channels over it. Each Channel has its own event bus:
//
//	ROOM_JOIN     the server accepted the join (detail is an Info)
//	ROOM_ERROR    the join was rejected or the server refused a request
//	ROOM_LEAVE    the server acknowledged a leave (detail is a CloseDetail)
//	ROOM_MESSAGE  a room message arrived (detail is a protocol.Payload)
//	ROOM_STATE    a state snapshot arrived (detail is a protocol.Payload)
//
// A Channel is single use. After an error or a leave it is stale: Send and
// Leave drop silently and late frames for it are ignored. Losing the
// transport detaches every channel without emitting room events; owners
// learn about it from the client's own CLOSE and ERROR events.
//
// Subscribe to a channel before joining it, since replies are delivered
// from the connection's read goroutine and may arrive before Join returns:
//
//	ch := client.Channel("lobby")
//	ch.Bus().On(eventbus.RoomJoin, onJoin)
//	if err := ch.Join(nil); err != nil {
//		return err
//	}
package room
