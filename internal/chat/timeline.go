package chat

import (
	"errors"
	"sync"

	"github.com/whisper/chat-client/internal/protocol"
)

// ErrStaleEpoch is returned when an asynchronous result belongs to a
// selection that is no longer current.
var ErrStaleEpoch = errors.New("chat: stale epoch")

// Outcome is the result of merging one streamed message.
type Outcome int

const (
	// Appended means the message was added at the end of the sequence.
	Appended Outcome = iota
	// Duplicate means an entry with the same id already exists; it was kept
	// unmodified and the new copy dropped.
	Duplicate
	// Stale means the message belongs to an earlier selection or another chat.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Timeline is the displayed, de-duplicated message sequence of the active
// chat. It merges the one-shot history fetch with streamed messages in
// arrival order. Every selection starts a new epoch; results tagged with an
// older epoch are rejected. It is goroutine-safe.
type Timeline struct {
	mu     sync.RWMutex
	epoch  uint64
	chatID string
	msgs   []protocol.Message
	ids    map[string]struct{}
	loaded bool
	failed bool

	// early holds messages streamed before the history of the current epoch
	// resolved, in receipt order. They are re-applied after the replacement.
	early []protocol.Message
}

// NewTimeline creates an empty Timeline with no selection.
func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[string]struct{})}
}

// Select makes chatID the active chat, discards everything accumulated for
// the previous selection and returns the new epoch.
func (t *Timeline) Select(chatID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resetLocked(chatID)
}

// Clear drops the selection entirely and returns the new epoch.
func (t *Timeline) Clear() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resetLocked("")
}

func (t *Timeline) resetLocked(chatID string) uint64 {
	t.epoch++
	t.chatID = chatID
	t.msgs = nil
	t.ids = make(map[string]struct{})
	t.loaded = false
	t.failed = false
	t.early = nil
	return t.epoch
}

// ReplaceHistory replaces the sequence with the fetched history of chatID.
// The history keeps server order; repeated ids inside it keep their first
// occurrence. Messages streamed for this epoch before the history resolved
// are appended afterwards unless the history already contains them.
// It returns the messages that are now displayed.
func (t *Timeline) ReplaceHistory(epoch uint64, chatID string, history []protocol.Message) ([]protocol.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if epoch != t.epoch || chatID != t.chatID {
		return nil, ErrStaleEpoch
	}

	t.msgs = make([]protocol.Message, 0, len(history)+len(t.early))
	t.ids = make(map[string]struct{}, len(history)+len(t.early))
	for _, m := range history {
		t.appendLocked(m)
	}
	for _, m := range t.early {
		t.appendLocked(m)
	}
	t.early = nil
	t.loaded = true
	t.failed = false

	return t.snapshotLocked(), nil
}

// HistoryFailed records that the history fetch for epoch failed. Nothing from
// the previous selection is restored.
func (t *Timeline) HistoryFailed(epoch uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if epoch != t.epoch {
		return ErrStaleEpoch
	}
	t.failed = true
	return nil
}

// Append merges one streamed message into the sequence.
func (t *Timeline) Append(epoch uint64, msg protocol.Message) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if epoch != t.epoch || t.chatID == "" || (msg.ChatID != "" && msg.ChatID != t.chatID) {
		return Stale
	}
	if !t.appendLocked(msg) {
		return Duplicate
	}
	if !t.loaded {
		t.early = append(t.early, msg)
	}
	return Appended
}

func (t *Timeline) appendLocked(msg protocol.Message) bool {
	if _, ok := t.ids[msg.ID]; ok {
		return false
	}
	t.ids[msg.ID] = struct{}{}
	t.msgs = append(t.msgs, msg)
	return true
}

// Messages returns a copy of the displayed sequence, oldest first.
func (t *Timeline) Messages() []protocol.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Timeline) snapshotLocked() []protocol.Message {
	out := make([]protocol.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of displayed messages.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Epoch returns the current epoch.
func (t *Timeline) Epoch() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch
}

// ChatID returns the selected chat id, or "" when nothing is selected.
func (t *Timeline) ChatID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chatID
}

// Loaded reports whether the history of the current selection resolved.
// An empty loaded timeline is the "no messages" state, not an error.
func (t *Timeline) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// Failed reports whether the history fetch of the current selection failed.
func (t *Timeline) Failed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failed
}
