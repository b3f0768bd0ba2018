package eventbus

// Transport channels, emitted by a WebSocket connection and re-emitted by
// the layers above it.
const (
	Open    = "OPEN"
	Error   = "ERROR"
	Close   = "CLOSE"
	Message = "MESSAGE"
)

// Room channels, emitted by a joined room channel and re-emitted by the
// session manager.
const (
	RoomJoin    = "ROOM_JOIN"
	RoomError   = "ROOM_ERROR"
	RoomLeave   = "ROOM_LEAVE"
	RoomMessage = "ROOM_MESSAGE"
	RoomState   = "ROOM_STATE"
)

// TransportChannels lists the transport channel names in a stable order.
func TransportChannels() []string {
	return []string{Open, Error, Close, Message}
}

// RoomChannels lists the room channel names in a stable order.
func RoomChannels() []string {
	return []string{RoomJoin, RoomError, RoomLeave, RoomMessage, RoomState}
}

// AllChannels lists every channel name, transport channels first.
func AllChannels() []string {
	return append(TransportChannels(), RoomChannels()...)
}
