package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vkchatbot/vkchatbot/internal/config"
)

// APIError is the error envelope returned by the VK API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// Client calls the VK API over HTTPS. All calls carry a bounded timeout via
// the underlying http.Client; callers may tighten it further with ctx.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	version    string
}

// NewClient creates a VK API client from config.
func NewClient(log *slog.Logger, cfg config.VKConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = config.DefaultVKAPIBase
	}
	version := cfg.APIVersion
	if version == "" {
		version = config.DefaultVKAPIVersion
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("client", "vk")),
		baseURL:    base,
		token:      cfg.AccessToken,
		version:    version,
	}
}

// call invokes a VK API method and decodes its "response" field into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", c.token)
	params.Set("v", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %d", method, resp.StatusCode)
	}

	var envelope struct {
		Error    *APIError       `json:"error"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("decode %s payload: %w", method, err)
		}
	}
	return nil
}

// GetLongPollServer fetches Bots Long Poll credentials for the group.
func (c *Client) GetLongPollServer(ctx context.Context, groupID int64) (LongPollServer, error) {
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(groupID, 10))
	var server LongPollServer
	if err := c.call(ctx, "groups.getLongPollServer", params, &server); err != nil {
		return LongPollServer{}, err
	}
	return server, nil
}

// SendMessage sends an outbound message and returns the platform message id.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (int64, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(req.PeerID, 10))
	params.Set("random_id", strconv.FormatInt(req.RandomID, 10))
	params.Set("message", req.Message)
	if req.Attachment != "" {
		params.Set("attachment", req.Attachment)
	}
	var messageID int64
	if err := c.call(ctx, "messages.send", params, &messageID); err != nil {
		return 0, err
	}
	return messageID, nil
}

// GetMessagesUploadServer acquires a photo upload target for the peer.
func (c *Client) GetMessagesUploadServer(ctx context.Context, peerID int64) (UploadServer, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	var server UploadServer
	if err := c.call(ctx, "photos.getMessagesUploadServer", params, &server); err != nil {
		return UploadServer{}, err
	}
	if server.UploadURL == "" {
		return UploadServer{}, fmt.Errorf("upload server response missing upload_url")
	}
	return server, nil
}

// UsersGet resolves user profiles by id.
func (c *Client) UsersGet(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	params := url.Values{}
	params.Set("user_ids", strings.Join(parts, ","))
	var users []User
	if err := c.call(ctx, "users.get", params, &users); err != nil {
		return nil, err
	}
	return users, nil
}
