package session

import (
	"encoding/json"
	"fmt"

	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/room"
	"github.com/wricardo/roomlink/transport/websocket"
)

// Describe renders an event detail as one line of text for logs and
// terminals.
func Describe(detail any) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case protocol.Payload:
		s, err := d.JSON()
		if err != nil {
			return fmt.Sprintf("<%d bytes>", len(d))
		}
		return s
	case websocket.Message:
		if d.Type == websocket.TextMessage {
			return d.Text()
		}
		return fmt.Sprintf("<binary %d bytes>", len(d.Data))
	case websocket.CloseDetail:
		return d.String()
	case room.Info:
		return fmt.Sprintf("room %s (%s) as %s", d.ID, d.Name, d.SessionID)
	case error:
		return d.Error()
	case fmt.Stringer:
		return d.String()
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprint(d)
		}
		return string(b)
	}
}
