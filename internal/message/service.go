package message

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vkchatbot/vkchatbot/internal/vk"
)

// attachFailureSuffix is appended to an outbound message when its media could
// not be attached; the text still goes out.
const attachFailureSuffix = "\n\n(failed to attach image)"

// Platform is the subset of the VK client the pipeline needs.
type Platform interface {
	SendMessage(ctx context.Context, req vk.SendMessageRequest) (int64, error)
	GetMessagesUploadServer(ctx context.Context, peerID int64) (vk.UploadServer, error)
	UploadMessagesPhoto(ctx context.Context, server vk.UploadServer, sourceURL string) (vk.Photo, error)
}

// MessageStore is the persistence gateway consumed by the pipeline.
type MessageStore interface {
	Add(ctx context.Context, msg Message) error
	ListByPeerDesc(ctx context.Context, peerID int64, limit int) ([]Message, error)
}

// Service is the message pipeline: it ingests inbound platform events into the
// buffer and the store, serves durable history, and dispatches outbound
// messages with the photo-attachment workflow.
type Service struct {
	logger   *slog.Logger
	buffer   *Buffer
	store    MessageStore
	platform Platform
	now      func() time.Time
}

// NewService creates the pipeline service.
func NewService(log *slog.Logger, buffer *Buffer, store MessageStore, platform Platform) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:   log.With(slog.String("service", "message")),
		buffer:   buffer,
		store:    store,
		platform: platform,
		now:      time.Now,
	}
}

// Consume drains the subscription channel until it closes or ctx is
// cancelled. Each inbound event is normalized, appended to the buffer, and
// persisted before the next event is taken, so durable storage is at most one
// event behind the platform acknowledgement.
//
// A persistence failure after a successful buffer append leaves the buffer
// ahead of the store; that divergence is logged under its own message so it
// can be monitored, and ingestion continues.
func (s *Service) Consume(ctx context.Context, events <-chan vk.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, event)
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, event vk.Event) {
	if event.Err != nil {
		s.logger.Error("error in updates", slog.Any("error", event.Err))
		return
	}
	msg, err := Normalize(s.logger, event.Message)
	if err != nil {
		// Malformed events are rejected, not defaulted.
		s.logger.Error("malformed inbound event rejected", slog.Any("error", err))
		return
	}
	s.buffer.Append(msg)
	if err := s.store.Add(ctx, msg); err != nil {
		s.logger.Error("message buffered but not persisted",
			slog.Int64("peer_id", msg.PeerID),
			slog.Int64("conversation_message_id", msg.ConversationMessageID),
			slog.Any("error", err),
		)
	}
}

// PopConversation removes and returns one conversation's entire backlog;
// empty when nothing is buffered.
func (s *Service) PopConversation() []Message {
	return s.buffer.PopConversation()
}

// Buffered returns the total number of records awaiting consumption.
func (s *Service) Buffered() int {
	return s.buffer.Len()
}

// History returns up to count durable records for the peer in ascending
// timestamp order. count <= 0 yields an empty result without touching the
// store.
func (s *Service) History(ctx context.Context, peerID int64, count int) ([]Message, error) {
	if count <= 0 {
		return []Message{}, nil
	}
	desc, err := s.store.ListByPeerDesc(ctx, peerID, count)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	asc := make([]Message, len(desc))
	for i, msg := range desc {
		asc[len(desc)-1-i] = msg
	}
	return asc, nil
}

// Send dispatches an outbound message, optionally attaching photos uploaded
// from the given source URLs. Uploads run concurrently and are all-or-nothing:
// if any fails, the message degrades to text only with an apology suffix
// instead of being aborted. On a successful send the record of what was
// actually sent is persisted with FromID 0.
func (s *Service) Send(ctx context.Context, peerID int64, text string, imageURLs []string) error {
	attachment := ""
	if len(imageURLs) > 0 {
		refs, err := s.uploadPhotos(ctx, peerID, imageURLs)
		if err != nil {
			s.logger.Error("failed to attach image", slog.Int64("peer_id", peerID), slog.Any("error", err))
			text += attachFailureSuffix
		} else {
			attachment = strings.Join(refs, ",")
		}
	}

	messageID, err := s.platform.SendMessage(ctx, vk.SendMessageRequest{
		PeerID:     peerID,
		RandomID:   randomID(),
		Message:    text,
		Attachment: attachment,
	})
	if err != nil {
		s.logger.Error("failed to send message",
			slog.Int64("peer_id", peerID),
			slog.String("text", text),
			slog.Any("error", err),
		)
		return fmt.Errorf("send message: %w", err)
	}

	record := Message{
		ConversationMessageID: messageID,
		PeerID:                peerID,
		FromID:                0,
		Timestamp:             float64(s.now().UnixNano()) / 1e9,
		Text:                  &text,
	}
	if err := s.store.Add(ctx, record); err != nil {
		s.logger.Error("sent message not persisted",
			slog.Int64("peer_id", peerID),
			slog.Int64("conversation_message_id", messageID),
			slog.Any("error", err),
		)
		return nil
	}
	s.logger.Info("message sent", slog.Int64("peer_id", peerID), slog.Int64("message_id", messageID))
	return nil
}

// uploadPhotos acquires one upload target and uploads every source URL
// concurrently. Any single failure fails the whole batch.
func (s *Service) uploadPhotos(ctx context.Context, peerID int64, imageURLs []string) ([]string, error) {
	server, err := s.platform.GetMessagesUploadServer(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("get upload server: %w", err)
	}
	group, groupCtx := errgroup.WithContext(ctx)
	refs := make([]string, len(imageURLs))
	for i, sourceURL := range imageURLs {
		group.Go(func() error {
			photo, err := s.platform.UploadMessagesPhoto(groupCtx, server, sourceURL)
			if err != nil {
				return fmt.Errorf("upload %s: %w", sourceURL, err)
			}
			refs[i] = photo.AttachmentRef()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

// randomID derives the messages.send idempotency token from a fresh UUID,
// masked to the non-negative int32 range the platform accepts.
func randomID() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint32(id[:4]) & 0x7fffffff)
}
