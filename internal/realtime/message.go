// Package realtime carries room events over websockets: Channel is the
// client-side connection manager, Hub fans events out to room members on the
// sandbox backend.
package realtime

import (
	"encoding/json"
	"time"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxMessage   = 65536
)

// Outbound control events.
const (
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newMessage(event string, payload any) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, err
		}
	}
	return WSMessage{Event: event, Data: data}, nil
}
