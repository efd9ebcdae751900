package bot_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkchatbot/vkchatbot/internal/bot"
	"github.com/vkchatbot/vkchatbot/internal/chat"
	"github.com/vkchatbot/vkchatbot/internal/config"
	"github.com/vkchatbot/vkchatbot/internal/message"
	"github.com/vkchatbot/vkchatbot/internal/settings"
)

type sentReply struct {
	peerID    int64
	text      string
	imageURLs []string
}

type fakePipeline struct {
	backlog    [][]message.Message
	history    []message.Message
	historyErr error
	sent       []sentReply
	sendErr    error
}

func (f *fakePipeline) PopConversation() []message.Message {
	if len(f.backlog) == 0 {
		return []message.Message{}
	}
	head := f.backlog[0]
	f.backlog = f.backlog[1:]
	return head
}

func (f *fakePipeline) History(_ context.Context, _ int64, _ int) ([]message.Message, error) {
	return f.history, f.historyErr
}

func (f *fakePipeline) Send(_ context.Context, peerID int64, text string, imageURLs []string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentReply{peerID: peerID, text: text, imageURLs: imageURLs})
	return nil
}

type fakeSettings struct {
	settings settings.ChatSettings
	err      error
}

func (f *fakeSettings) Get(_ context.Context, peerID int64) (settings.ChatSettings, error) {
	if f.err != nil {
		return settings.ChatSettings{}, f.err
	}
	s := f.settings
	s.PeerID = peerID
	return s, nil
}

type fakeNames struct{}

func (fakeNames) DisplayName(_ context.Context, userID int64) string {
	if userID == 7 {
		return "Alice Ivanova"
	}
	return "id"
}

type fakeCompleter struct {
	reply    string
	err      error
	requests []chat.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req chat.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeImages struct {
	url     string
	err     error
	prompts []string
}

func (f *fakeImages) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

func strPtr(s string) *string { return &s }

func inbound(peerID, fromID int64, text string) message.Message {
	return message.Message{PeerID: peerID, FromID: fromID, Text: strPtr(text)}
}

func outbound(peerID int64, text string) message.Message {
	return message.Message{PeerID: peerID, FromID: 0, Text: strPtr(text)}
}

func testSettings() settings.ChatSettings {
	return settings.ChatSettings{
		SystemPrompt: "be terse",
		Model:        "gpt-4o-mini",
		MaxTokens:    64,
		Temperature:  0.7,
		TopP:         1,
	}
}

func newTestBot(pipeline *fakePipeline, completer *fakeCompleter, images *fakeImages) *bot.Bot {
	return bot.New(nil, pipeline, &fakeSettings{settings: testSettings()}, fakeNames{}, completer, images, config.BotConfig{
		PollIntervalMs: 10,
		HistoryDepth:   30,
	})
}

func TestTurn_RepliesFromHistory(t *testing.T) {
	t.Parallel()
	pipeline := &fakePipeline{
		backlog: [][]message.Message{{inbound(42, 7, "hello bot")}},
		history: []message.Message{
			inbound(42, 7, "hi"),
			outbound(42, "hello"),
			inbound(42, 7, "hello bot"),
		},
	}
	completer := &fakeCompleter{reply: "hello again"}
	b := newTestBot(pipeline, completer, &fakeImages{})

	b.Turn(context.Background())

	require.Len(t, completer.requests, 1)
	req := completer.requests[0]
	assert.Equal(t, "be terse", req.SystemPrompt)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, chat.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Alice_Ivanova", req.Messages[0].Name)
	assert.Equal(t, chat.RoleAssistant, req.Messages[1].Role)
	assert.Empty(t, req.Messages[1].Name)

	require.Len(t, pipeline.sent, 1)
	assert.Equal(t, int64(42), pipeline.sent[0].peerID)
	assert.Equal(t, "hello again", pipeline.sent[0].text)
	assert.Empty(t, pipeline.sent[0].imageURLs)
}

func TestTurn_EmptyBufferDoesNothing(t *testing.T) {
	t.Parallel()
	pipeline := &fakePipeline{}
	completer := &fakeCompleter{reply: "unused"}
	b := newTestBot(pipeline, completer, &fakeImages{})

	b.Turn(context.Background())

	assert.Empty(t, completer.requests)
	assert.Empty(t, pipeline.sent)
}

func TestTurn_ImageCommand(t *testing.T) {
	t.Parallel()
	pipeline := &fakePipeline{
		backlog: [][]message.Message{{inbound(42, 7, "/image a red cat")}},
	}
	completer := &fakeCompleter{reply: "unused"}
	images := &fakeImages{url: "https://img.example/cat.png"}
	b := newTestBot(pipeline, completer, images)

	b.Turn(context.Background())

	assert.Equal(t, []string{"a red cat"}, images.prompts)
	assert.Empty(t, completer.requests)
	require.Len(t, pipeline.sent, 1)
	assert.Equal(t, []string{"https://img.example/cat.png"}, pipeline.sent[0].imageURLs)
}

func TestTurn_ImageFailureSkipsTurn(t *testing.T) {
	t.Parallel()
	pipeline := &fakePipeline{
		backlog: [][]message.Message{{inbound(42, 7, "/image a red cat")}},
	}
	images := &fakeImages{err: errors.New("generation refused")}
	b := newTestBot(pipeline, &fakeCompleter{}, images)

	b.Turn(context.Background())

	assert.Empty(t, pipeline.sent)
}

func TestTurn_CompletionFailureSkipsTurn(t *testing.T) {
	t.Parallel()
	pipeline := &fakePipeline{
		backlog: [][]message.Message{{inbound(42, 7, "hello")}},
		history: []message.Message{inbound(42, 7, "hello")},
	}
	completer := &fakeCompleter{err: errors.New("backend down")}
	b := newTestBot(pipeline, completer, &fakeImages{})

	b.Turn(context.Background())

	assert.Empty(t, pipeline.sent)
}

func TestTurn_HistoryFailureSkipsTurn(t *testing.T) {
	t.Parallel()
	pipeline := &fakePipeline{
		backlog:    [][]message.Message{{inbound(42, 7, "hello")}},
		historyErr: errors.New("db down"),
	}
	completer := &fakeCompleter{reply: "unused"}
	b := newTestBot(pipeline, completer, &fakeImages{})

	b.Turn(context.Background())

	assert.Empty(t, completer.requests)
	assert.Empty(t, pipeline.sent)
}

func TestTurn_SkipsRecordsWithoutText(t *testing.T) {
	t.Parallel()
	pipeline := &fakePipeline{
		backlog: [][]message.Message{{inbound(42, 7, "hello")}},
		history: []message.Message{
			{PeerID: 42, FromID: 7}, // no text
			inbound(42, 7, "hello"),
		},
	}
	completer := &fakeCompleter{reply: "hi"}
	b := newTestBot(pipeline, completer, &fakeImages{})

	b.Turn(context.Background())

	require.Len(t, completer.requests, 1)
	assert.Len(t, completer.requests[0].Messages, 1)
}
