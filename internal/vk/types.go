package vk

import (
	"encoding/json"
	"fmt"
)

// Attachment is a raw VK attachment descriptor. The platform payload is kept
// verbatim so downstream consumers can reference platform-specific fields.
type Attachment struct {
	Type    string
	Payload json.RawMessage
}

func (a *Attachment) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	a.Type = head.Type
	a.Payload = append(json.RawMessage(nil), data...)
	return nil
}

func (a Attachment) MarshalJSON() ([]byte, error) {
	if len(a.Payload) > 0 {
		return a.Payload, nil
	}
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: a.Type})
}

// MessageEvent is the raw message_new payload from the Bots Long Poll API.
type MessageEvent struct {
	ConversationMessageID int64        `json:"conversation_message_id"`
	PeerID                int64        `json:"peer_id"`
	FromID                int64        `json:"from_id"`
	Date                  int64        `json:"date"`
	Text                  *string      `json:"text"`
	Attachments           []Attachment `json:"attachments"`
}

// Event is one item emitted by the long poll subscription: either an inbound
// message or a subscription error. Exactly one field is set.
type Event struct {
	Message *MessageEvent
	Err     error
}

// Photo identifies an uploaded photo owned by a user or group.
type Photo struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	AccessKey string `json:"access_key,omitempty"`
}

// AttachmentRef renders the canonical attachment reference accepted by
// messages.send, e.g. "photo123_456_abcdef".
func (p Photo) AttachmentRef() string {
	ref := fmt.Sprintf("photo%d_%d", p.OwnerID, p.ID)
	if p.AccessKey != "" {
		ref += "_" + p.AccessKey
	}
	return ref
}

// User is the subset of users.get fields the bot needs.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// LongPollServer holds Bots Long Poll connection credentials.
type LongPollServer struct {
	Key    string `json:"key"`
	Server string `json:"server"`
	TS     string `json:"ts"`
}

// UploadServer is the target returned by photos.getMessagesUploadServer.
type UploadServer struct {
	UploadURL string `json:"upload_url"`
}

// SendMessageRequest is the outbound messages.send call. Attachment is the
// comma-joined attachment reference string; empty means text only.
type SendMessageRequest struct {
	PeerID     int64
	RandomID   int64
	Message    string
	Attachment string
}
