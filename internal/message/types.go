package message

import (
	"github.com/vkchatbot/vkchatbot/internal/vk"
)

// Message is the canonical record flowing through the pipeline: one inbound
// or outbound chat message. A record is immutable once the normalizer has
// produced it.
type Message struct {
	// ConversationMessageID is the platform-assigned ordering id within the
	// conversation. For outbound records it holds the id echoed back by
	// messages.send.
	ConversationMessageID int64 `json:"conversation_message_id"`
	// PeerID identifies the conversation. It partitions all buffering and
	// storage; nothing ever merges records across peers.
	PeerID int64 `json:"peer_id"`
	// FromID is the sender. 0 means sent by this bot.
	FromID int64 `json:"from_id"`
	// Timestamp is epoch seconds, fractional for outbound records.
	Timestamp float64 `json:"timestamp"`
	// Text is nil when the platform delivered no text payload.
	Text        *string         `json:"text"`
	Attachments []vk.Attachment `json:"attachments,omitempty"`
}

// TextValue returns the text payload or "" when absent.
func (m Message) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// Outbound reports whether the record was sent by this bot.
func (m Message) Outbound() bool {
	return m.FromID == 0
}
