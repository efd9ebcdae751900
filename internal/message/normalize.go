package message

import (
	"fmt"
	"log/slog"

	"github.com/vkchatbot/vkchatbot/internal/vk"
)

// Normalize converts a raw inbound platform event into a canonical Message.
// Attachment metadata is folded into the text field: a record with no text but
// at least one attachment gets an empty text first, then one
// " (attachment: <type>)" descriptor per attachment in stream order.
//
// An event without a peer id is malformed and rejected rather than defaulted.
func Normalize(log *slog.Logger, event *vk.MessageEvent) (Message, error) {
	if event == nil {
		return Message{}, fmt.Errorf("nil message event")
	}
	if event.PeerID == 0 {
		return Message{}, fmt.Errorf("message event missing peer id")
	}

	var text *string
	if event.Text != nil {
		value := *event.Text
		text = &value
	}

	msg := Message{
		ConversationMessageID: event.ConversationMessageID,
		PeerID:                event.PeerID,
		FromID:                event.FromID,
		Timestamp:             float64(event.Date),
	}

	if len(event.Attachments) > 0 {
		if text == nil {
			empty := ""
			text = &empty
		}
		for _, att := range event.Attachments {
			*text += fmt.Sprintf(" (attachment: %s)", att.Type)
			msg.Attachments = append(msg.Attachments, att)
		}
	}
	msg.Text = text

	if log != nil {
		log.Debug("message received",
			slog.Int64("from_id", msg.FromID),
			slog.String("text", msg.TextValue()),
		)
	}
	return msg, nil
}
