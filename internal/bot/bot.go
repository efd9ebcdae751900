package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vkchatbot/vkchatbot/internal/chat"
	"github.com/vkchatbot/vkchatbot/internal/config"
	"github.com/vkchatbot/vkchatbot/internal/message"
	"github.com/vkchatbot/vkchatbot/internal/settings"
)

const imageCommand = "/image"

// Pipeline is the message pipeline surface the responder consumes.
type Pipeline interface {
	PopConversation() []message.Message
	History(ctx context.Context, peerID int64, count int) ([]message.Message, error)
	Send(ctx context.Context, peerID int64, text string, imageURLs []string) error
}

// SettingsSource loads per-conversation completion settings.
type SettingsSource interface {
	Get(ctx context.Context, peerID int64) (settings.ChatSettings, error)
}

// NameSource resolves sender display names.
type NameSource interface {
	DisplayName(ctx context.Context, userID int64) string
}

// Completer produces a reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, req chat.Request) (string, error)
}

// ImageGenerator produces an image URL from a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Bot is the responder loop. Each tick it takes one conversation's backlog,
// builds a completion request from durable history, and sends the reply. Any
// backend failure skips the turn; the loop itself never stops on errors.
type Bot struct {
	logger       *slog.Logger
	pipeline     Pipeline
	settings     SettingsSource
	names        NameSource
	completer    Completer
	images       ImageGenerator
	pollInterval time.Duration
	historyDepth int
}

// New creates the responder.
func New(
	log *slog.Logger,
	pipeline Pipeline,
	settingsSource SettingsSource,
	names NameSource,
	completer Completer,
	images ImageGenerator,
	cfg config.BotConfig,
) *Bot {
	if log == nil {
		log = slog.Default()
	}
	interval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 30
	}
	return &Bot{
		logger:       log.With(slog.String("service", "bot")),
		pipeline:     pipeline,
		settings:     settingsSource,
		names:        names,
		completer:    completer,
		images:       images,
		pollInterval: interval,
		historyDepth: depth,
	}
}

// Run ticks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Turn(ctx)
		}
	}
}

// Turn handles at most one conversation: the oldest one with a pending
// backlog.
func (b *Bot) Turn(ctx context.Context) {
	backlog := b.pipeline.PopConversation()
	if len(backlog) == 0 {
		return
	}
	peerID := backlog[0].PeerID
	log := b.logger.With(slog.Int64("peer_id", peerID))

	latest := backlog[len(backlog)-1]
	if prompt, ok := imagePrompt(latest.TextValue()); ok {
		b.respondWithImage(ctx, log, peerID, prompt)
		return
	}

	chatSettings, err := b.settings.Get(ctx, peerID)
	if err != nil {
		log.Error("failed to load chat settings, skipping turn", slog.Any("error", err))
		return
	}

	// Ingestion persists before the backlog is popped, so history already
	// contains the new messages.
	history, err := b.pipeline.History(ctx, peerID, b.historyDepth)
	if err != nil {
		log.Error("failed to load history, skipping turn", slog.Any("error", err))
		return
	}
	if len(history) == 0 {
		history = backlog
	}

	reply, err := b.completer.Complete(ctx, chat.Request{
		SystemPrompt:     chatSettings.SystemPrompt,
		Messages:         b.buildMessages(ctx, history),
		Model:            chatSettings.Model,
		MaxTokens:        chatSettings.MaxTokens,
		Temperature:      chatSettings.Temperature,
		TopP:             chatSettings.TopP,
		FrequencyPenalty: chatSettings.FrequencyPenalty,
		PresencePenalty:  chatSettings.PresencePenalty,
	})
	if err != nil {
		log.Error("completion failed, skipping turn", slog.Any("error", err))
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Warn("empty completion, skipping turn")
		return
	}

	if err := b.pipeline.Send(ctx, peerID, reply, nil); err != nil {
		log.Error("failed to send reply", slog.Any("error", err))
	}
}

func (b *Bot) respondWithImage(ctx context.Context, log *slog.Logger, peerID int64, prompt string) {
	url, err := b.images.Generate(ctx, prompt)
	if err != nil {
		log.Error("image generation failed, skipping turn", slog.Any("error", err))
		return
	}
	if err := b.pipeline.Send(ctx, peerID, "", []string{url}); err != nil {
		log.Error("failed to send generated image", slog.Any("error", err))
	}
}

// buildMessages converts history records to completion turns. Records sent by
// the bot become assistant turns; everything else becomes a named user turn.
// Records with no text are skipped.
func (b *Bot) buildMessages(ctx context.Context, history []message.Message) []chat.Message {
	out := make([]chat.Message, 0, len(history))
	for _, msg := range history {
		if msg.Text == nil || *msg.Text == "" {
			continue
		}
		if msg.Outbound() {
			out = append(out, chat.Message{Role: chat.RoleAssistant, Content: *msg.Text})
			continue
		}
		out = append(out, chat.Message{
			Role:    chat.RoleUser,
			Name:    sanitizeName(b.names.DisplayName(ctx, msg.FromID)),
			Content: *msg.Text,
		})
	}
	return out
}

// imagePrompt extracts the prompt from a "/image <prompt>" command.
func imagePrompt(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, imageCommand) {
		return "", false
	}
	prompt := strings.TrimSpace(strings.TrimPrefix(trimmed, imageCommand))
	if prompt == "" {
		return "", false
	}
	return prompt, true
}

// sanitizeName restricts a display name to the character set the completion
// API accepts for the name field.
func sanitizeName(name string) string {
	var builder strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	sanitized := builder.String()
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	if sanitized == "" {
		return "user"
	}
	return sanitized
}
