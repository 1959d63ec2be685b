package realtime

import "encoding/json"

// Event types pushed over the realtime channel.
const (
	EventPing        = "ping"
	EventChat        = "chat"
	EventNewChat     = "nuevo_chat"
	EventChatDeleted = "chat_deleted"
)

// Ping is the liveness frame sent in reply to every inbound client frame.
type Ping struct {
	Type string `json:"type"`
}

var heartbeatFrame = mustEncode(Ping{Type: EventPing})

func mustEncode(value interface{}) []byte {
	frame, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return frame
}
