package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vkchatbot/vkchatbot/internal/vk"
)

// Store persists canonical records in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a message store over the given pool.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("store", "messages")),
	}
}

// Add inserts one record.
func (s *Store) Add(ctx context.Context, msg Message) error {
	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (peer_id, conversation_message_id, from_id, sent_at, text, attachments)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.PeerID, msg.ConversationMessageID, msg.FromID, msg.Timestamp, msg.Text, attachments,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListByPeerDesc returns the most recent limit records for the peer, newest
// first.
func (s *Store) ListByPeerDesc(ctx context.Context, peerID int64, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT peer_id, conversation_message_id, from_id, sent_at, text, attachments
		FROM messages
		WHERE peer_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`,
		peerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var attachments []byte
		if err := rows.Scan(&msg.PeerID, &msg.ConversationMessageID, &msg.FromID, &msg.Timestamp, &msg.Text, &attachments); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				s.logger.Warn("skip undecodable attachments", slog.Int64("peer_id", msg.PeerID), slog.Any("error", err))
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// DeleteOlderThan removes records with a timestamp before cutoff (epoch
// seconds) and returns the number of rows deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func marshalAttachments(attachments []vk.Attachment) ([]byte, error) {
	if len(attachments) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(attachments)
}
