package chat

import "github.com/whisper/chat-client/internal/protocol"

// Change kinds emitted by the controller after the timeline was updated.
const (
	ChangeSelected     = "selected"
	ChangeHistory      = "history"
	ChangeAppended     = "appended"
	ChangeChannelState = "channel_state"
	ChangeCleared      = "cleared"
)

// ChangeEvent describes one update of the displayed state. It is the payload
// published to the event mirror and handed to view observers.
type ChangeEvent struct {
	Kind     string             `json:"kind"`
	ChatID   string             `json:"chat_id,omitempty"`
	Epoch    uint64             `json:"epoch"`
	Message  *protocol.Message  `json:"message,omitempty"`  // for appended events
	Messages []protocol.Message `json:"messages,omitempty"` // for history events
	State    string             `json:"state,omitempty"`    // for channel_state events
	Ts       int64              `json:"ts"`                 // unix timestamp
}
