package chat

import "sync"

// Transcript is the ordered message list of the current session.
type Transcript struct {
	mu       sync.RWMutex
	session  string
	messages []Message
}

func NewTranscript(session string, messages ...Message) *Transcript {
	t := &Transcript{}
	t.Replace(session, messages)
	return t
}

// Session returns the id of the session the transcript belongs to.
func (t *Transcript) Session() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session
}

// Replace swaps in another session's messages.
func (t *Transcript) Replace(session string, messages []Message) {
	t.mu.Lock()
	t.session = session
	t.messages = append([]Message(nil), messages...)
	t.mu.Unlock()
}

// Upsert replaces the message with the same id or appends it. A streaming
// reply is upserted repeatedly until its final version arrives.
func (t *Transcript) Upsert(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.messages {
		if t.messages[i].ID == msg.ID {
			t.messages[i] = msg
			return
		}
	}
	t.messages = append(t.messages, msg)
}

// Messages returns a copy of all messages in order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Message(nil), t.messages...)
}

// AIMessages returns the AI messages in transcript order.
func (t *Transcript) AIMessages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return FilterAI(t.messages)
}

// Find looks a message up by id.
func (t *Transcript) Find(id string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// FilterAI keeps AI messages, preserving order.
func FilterAI(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IsAI() {
			out = append(out, m)
		}
	}
	return out
}

// FilterPlayable keeps finished AI replies, preserving order.
func FilterPlayable(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Playable() {
			out = append(out, m)
		}
	}
	return out
}
