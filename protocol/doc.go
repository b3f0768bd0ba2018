// Package protocol defines the room protocol spoken between roomlink clients
// and a room server over binary WebSocket frames.
//
// Every binary frame carries exactly one CBOR-encoded Frame. The Op field
// selects the meaning of the remaining fields:
//
//	OpJoinRequest (9)   client -> server  seq, room, opts
//	OpJoinRoom    (10)  server -> client  seq, rid, sid, room
//	OpJoinError   (11)  server -> client  seq, err
//	OpLeaveRoom   (12)  both              rid, code
//	OpRoomData    (13)  both              rid, data
//	OpRoomState   (14)  server -> client  rid, data
//	OpRoomList    (16)  both              seq, room, rooms, err
//	OpBadRequest  (50)  server -> client  err
//
// Requests that expect a reply (join and room list) carry a client chosen
// sequence number which the server copies into the reply.
//
// Payloads:
//
// Room messages and state snapshots travel as an opaque Payload: the raw
// CBOR encoding of whatever value the sender marshalled. This package never
// interprets them; receivers call Payload.Decode with a target of their
// choosing. Maps decode to map[string]any so that decoded values can be
// re-encoded as JSON.
package protocol
