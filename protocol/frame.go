package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	ErrInvalidFrame = errors.New("invalid protocol frame")
	ErrEmptyPayload = errors.New("empty payload")
)

// Op identifies the kind of a frame.
type Op uint8

const (
	OpJoinRequest Op = 9
	OpJoinRoom    Op = 10
	OpJoinError   Op = 11
	OpLeaveRoom   Op = 12
	OpRoomData    Op = 13
	OpRoomState   Op = 14
	OpRoomList    Op = 16
	OpBadRequest  Op = 50
)

func (o Op) String() string {
	switch o {
	case OpJoinRequest:
		return "join_request"
	case OpJoinRoom:
		return "join_room"
	case OpJoinError:
		return "join_error"
	case OpLeaveRoom:
		return "leave_room"
	case OpRoomData:
		return "room_data"
	case OpRoomState:
		return "room_state"
	case OpRoomList:
		return "room_list"
	case OpBadRequest:
		return "bad_request"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Frame is the unit of the room protocol.
type Frame struct {
	Op      Op              `cbor:"op"`
	Seq     uint32          `cbor:"seq,omitempty"`
	Room    string          `cbor:"room,omitempty"`
	RoomID  string          `cbor:"rid,omitempty"`
	Session string          `cbor:"sid,omitempty"`
	Options map[string]any  `cbor:"opts,omitempty"`
	Data    Payload         `cbor:"data,omitempty"`
	Rooms   []RoomAvailable `cbor:"rooms,omitempty"`
	Code    int             `cbor:"code,omitempty"`
	Error   string          `cbor:"err,omitempty"`
}

// RoomAvailable describes a joinable room as reported by the server.
type RoomAvailable struct {
	RoomID     string            `cbor:"rid" json:"room_id"`
	Name       string            `cbor:"name" json:"name"`
	Clients    int               `cbor:"clients" json:"clients"`
	MaxClients int               `cbor:"max" json:"max_clients"`
	Metadata   map[string]string `cbor:"meta,omitempty" json:"metadata,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor encoder: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor decoder: %v", err))
	}
}

// Encode serializes a frame for a binary WebSocket message.
func Encode(f Frame) ([]byte, error) {
	if f.Op == 0 {
		return nil, fmt.Errorf("%w: missing op", ErrInvalidFrame)
	}
	data, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", f.Op, err)
	}
	return data, nil
}

// Decode parses a binary WebSocket message into a frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.Op == 0 {
		return Frame{}, fmt.Errorf("%w: missing op", ErrInvalidFrame)
	}
	return f, nil
}

// Payload is an opaque CBOR value carried inside a frame.
type Payload []byte

// Marshal encodes v as a Payload.
func Marshal(v any) (Payload, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return Payload(data), nil
}

// Decode decodes the payload into v.
func (p Payload) Decode(v any) error {
	if len(p) == 0 {
		return ErrEmptyPayload
	}
	return decMode.Unmarshal(p, v)
}

// Value decodes the payload into a generic Go value.
func (p Payload) Value() (any, error) {
	var v any
	if err := p.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// JSON renders the payload as JSON, for logs and text surfaces.
func (p Payload) JSON() (string, error) {
	v, err := p.Value()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("payload is not representable as JSON: %w", err)
	}
	return string(data), nil
}

// MarshalCBOR embeds the payload bytes as-is.
func (p Payload) MarshalCBOR() ([]byte, error) {
	if len(p) == 0 {
		return []byte{0xf6}, nil // null
	}
	return p, nil
}

// UnmarshalCBOR keeps a copy of the raw value.
func (p *Payload) UnmarshalCBOR(data []byte) error {
	if p == nil {
		return errors.New("protocol: UnmarshalCBOR on nil *Payload")
	}
	*p = append((*p)[0:0], data...)
	return nil
}
