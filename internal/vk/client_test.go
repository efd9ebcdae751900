package vk_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkchatbot/vkchatbot/internal/config"
	"github.com/vkchatbot/vkchatbot/internal/vk"
)

func newTestClient(t *testing.T, handler http.Handler) (*vk.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := vk.NewClient(nil, config.VKConfig{
		AccessToken: "test-token",
		GroupID:     1,
		APIBase:     server.URL,
		APIVersion:  "5.131",
	})
	return client, server
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages.send", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-token", r.Form.Get("access_token"))
		assert.Equal(t, "5.131", r.Form.Get("v"))
		assert.Equal(t, "42", r.Form.Get("peer_id"))
		assert.Equal(t, "hello", r.Form.Get("message"))
		assert.Empty(t, r.Form.Get("attachment"))
		fmt.Fprint(w, `{"response": 777}`)
	}))

	id, err := client.SendMessage(context.Background(), vk.SendMessageRequest{
		PeerID:   42,
		RandomID: 123,
		Message:  "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(777), id)
}

func TestSendMessage_APIError(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"error_code": 901, "error_msg": "Can't send messages for users without permission"}}`)
	}))

	_, err := client.SendMessage(context.Background(), vk.SendMessageRequest{PeerID: 42, Message: "hi"})
	require.Error(t, err)
	var apiErr *vk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 901, apiErr.Code)
}

func TestGetLongPollServer(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups.getLongPollServer", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "99", r.Form.Get("group_id"))
		fmt.Fprint(w, `{"response": {"key": "k", "server": "https://lp.vk.com/wh", "ts": "5"}}`)
	}))

	server, err := client.GetLongPollServer(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, "k", server.Key)
	assert.Equal(t, "https://lp.vk.com/wh", server.Server)
	assert.Equal(t, "5", server.TS)
}

func TestUsersGet(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users.get", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1,2", r.Form.Get("user_ids"))
		fmt.Fprint(w, `{"response": [{"id": 1, "first_name": "Ann", "last_name": "Lee"}, {"id": 2, "first_name": "Bob", "last_name": "Ray"}]}`)
	}))

	users, err := client.UsersGet(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Ann", users[0].FirstName)
}

func TestUsersGet_Empty(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty id list")
	}))
	users, err := client.UsersGet(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestPhotoAttachmentRef(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "photo10_20", vk.Photo{ID: 20, OwnerID: 10}.AttachmentRef())
	assert.Equal(t, "photo-5_7_abc", vk.Photo{ID: 7, OwnerID: -5, AccessKey: "abc"}.AttachmentRef())
}

func TestAttachmentJSONRoundTrip(t *testing.T) {
	t.Parallel()
	raw := `{"type":"photo","photo":{"id":3,"owner_id":4,"access_key":"xyz"}}`
	var att vk.Attachment
	require.NoError(t, json.Unmarshal([]byte(raw), &att))
	assert.Equal(t, "photo", att.Type)
	assert.JSONEq(t, raw, string(att.Payload))

	out, err := json.Marshal(att)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestUploadMessagesPhoto(t *testing.T) {
	t.Parallel()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-image-bytes"))
	}))
	t.Cleanup(source.Close)

	var mux http.ServeMux
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("photo")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "photo.jpg", header.Filename)
		fmt.Fprint(w, `{"server": 11, "photo": "payload", "hash": "h"}`)
	})
	mux.HandleFunc("/photos.saveMessagesPhoto", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "11", r.Form.Get("server"))
		assert.Equal(t, "payload", r.Form.Get("photo"))
		assert.Equal(t, "h", r.Form.Get("hash"))
		fmt.Fprint(w, `{"response": [{"id": 2, "owner_id": -9, "access_key": "ak"}]}`)
	})
	client, apiServer := newTestClient(t, &mux)

	photo, err := client.UploadMessagesPhoto(context.Background(), vk.UploadServer{UploadURL: apiServer.URL + "/upload"}, source.URL)
	require.NoError(t, err)
	assert.Equal(t, "photo-9_2_ak", photo.AttachmentRef())
}

func TestUploadMessagesPhoto_DownloadFails(t *testing.T) {
	t.Parallel()
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(source.Close)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no api call expected when download fails")
	}))

	_, err := client.UploadMessagesPhoto(context.Background(), vk.UploadServer{UploadURL: "http://unused.invalid"}, source.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download photo")
}
