package messaging

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/whisper/chat-client/internal/chat"
)

// Publisher is the subset of NATSClient the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Mirror republishes controller change events: every appended message goes
// to chat.<chat_id>, selection changes to client.<profile>.selection.
// Publish failures are logged and otherwise ignored.
type Mirror struct {
	pub     Publisher
	profile string
}

// NewMirror creates a Mirror publishing through pub on behalf of profile.
func NewMirror(pub Publisher, profile string) *Mirror {
	return &Mirror{pub: pub, profile: profile}
}

// HandleChange publishes ev if it is a kind the mirror carries.
func (m *Mirror) HandleChange(ev chat.ChangeEvent) {
	var (
		subject string
		payload interface{}
	)
	switch ev.Kind {
	case chat.ChangeAppended:
		if ev.Message == nil {
			return
		}
		subject, payload = ChatSubject(ev.ChatID), ev.Message
	case chat.ChangeSelected, chat.ChangeCleared:
		subject, payload = SelectionSubject(m.profile), ev
	default:
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("[mirror] marshal failed")
		return
	}
	if err := m.pub.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("[mirror] publish failed")
	}
}
