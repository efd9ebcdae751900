package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Defaults applied when a conversation has no stored settings yet.
const (
	DefaultSystemPrompt = "You are a helpful assistant in a group chat."
	DefaultModel        = "gpt-4o-mini"
	DefaultMaxTokens    = 512
	DefaultTemperature  = 1.0
	DefaultTopP         = 1.0
)

// ChatSettings tunes the completion backend for one conversation.
type ChatSettings struct {
	PeerID           int64
	SystemPrompt     string
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

func defaults(peerID int64) ChatSettings {
	return ChatSettings{
		PeerID:       peerID,
		SystemPrompt: DefaultSystemPrompt,
		Model:        DefaultModel,
		MaxTokens:    DefaultMaxTokens,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
	}
}

// Store persists per-conversation chat settings in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a settings store over the given pool.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("store", "chat_settings")),
	}
}

// Get returns the settings for a conversation, creating the default row on
// first read.
func (s *Store) Get(ctx context.Context, peerID int64) (ChatSettings, error) {
	var settings ChatSettings
	err := s.pool.QueryRow(ctx, `
		SELECT peer_id, system_prompt, model, max_tokens, temperature, top_p, frequency_penalty, presence_penalty
		FROM chat_settings
		WHERE peer_id = $1`,
		peerID,
	).Scan(
		&settings.PeerID, &settings.SystemPrompt, &settings.Model, &settings.MaxTokens,
		&settings.Temperature, &settings.TopP, &settings.FrequencyPenalty, &settings.PresencePenalty,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		settings = defaults(peerID)
		if err := s.Save(ctx, settings); err != nil {
			return ChatSettings{}, fmt.Errorf("create default settings: %w", err)
		}
		s.logger.Info("created default chat settings", slog.Int64("peer_id", peerID))
		return settings, nil
	}
	if err != nil {
		return ChatSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// Save upserts the settings row.
func (s *Store) Save(ctx context.Context, settings ChatSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_settings (peer_id, system_prompt, model, max_tokens, temperature, top_p, frequency_penalty, presence_penalty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (peer_id) DO UPDATE SET
			system_prompt = EXCLUDED.system_prompt,
			model = EXCLUDED.model,
			max_tokens = EXCLUDED.max_tokens,
			temperature = EXCLUDED.temperature,
			top_p = EXCLUDED.top_p,
			frequency_penalty = EXCLUDED.frequency_penalty,
			presence_penalty = EXCLUDED.presence_penalty,
			updated_at = now()`,
		settings.PeerID, settings.SystemPrompt, settings.Model, settings.MaxTokens,
		settings.Temperature, settings.TopP, settings.FrequencyPenalty, settings.PresencePenalty,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
