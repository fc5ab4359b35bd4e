// Package chat models the conversation transcript the playback client reads.
package chat

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser Sender = "USER"
	SenderAI   Sender = "AI"
)

// Message is one transcript entry. Streaming is true while an AI reply is
// still arriving.
type Message struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Streaming bool   `json:"streaming,omitempty"`
}

func (m Message) IsAI() bool {
	return m.Sender == SenderAI
}

// Playable reports whether the message can be synthesized: a finished AI
// reply with text.
func (m Message) Playable() bool {
	return m.IsAI() && !m.Streaming && m.Text != ""
}
