package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkchatbot/vkchatbot/internal/message"
	"github.com/vkchatbot/vkchatbot/internal/vk"
)

type fakeHistorySource struct {
	peerID  int64
	count   int
	history []message.Message
	err     error
}

func (f *fakeHistorySource) History(_ context.Context, peerID int64, count int) ([]message.Message, error) {
	f.peerID = peerID
	f.count = count
	return f.history, f.err
}

func serveHistory(source *fakeHistorySource, target string) *httptest.ResponseRecorder {
	e := echo.New()
	NewHistoryHandler(nil, source).Register(e)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHistory(t *testing.T) {
	t.Parallel()
	text := "hi"
	var photo vk.Attachment
	require.NoError(t, json.Unmarshal([]byte(`{"type":"photo","photo":{"id":1,"owner_id":2}}`), &photo))
	source := &fakeHistorySource{history: []message.Message{
		{PeerID: 42, FromID: 7, Timestamp: 100, Text: &text, Attachments: []vk.Attachment{photo}},
		{PeerID: 42, FromID: 0, Timestamp: 101},
	}}

	rec := serveHistory(source, "/peers/42/history?count=10")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), source.peerID)
	assert.Equal(t, 10, source.count)

	var body struct {
		Messages []historyMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "hi", *body.Messages[0].Text)
	require.Len(t, body.Messages[0].Attachments, 1)
	assert.Equal(t, "photo", body.Messages[0].Attachments[0].Type)
	assert.Nil(t, body.Messages[1].Text)
	assert.Empty(t, body.Messages[1].Attachments)
}

func TestHistory_DefaultCount(t *testing.T) {
	t.Parallel()
	source := &fakeHistorySource{}
	rec := serveHistory(source, "/peers/42/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryCount, source.count)
}

func TestHistory_BadPeerID(t *testing.T) {
	t.Parallel()
	rec := serveHistory(&fakeHistorySource{}, "/peers/abc/history")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_BadCount(t *testing.T) {
	t.Parallel()
	rec := serveHistory(&fakeHistorySource{}, "/peers/42/history?count=many")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_SourceFailure(t *testing.T) {
	t.Parallel()
	rec := serveHistory(&fakeHistorySource{err: errors.New("db down")}, "/peers/42/history")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
