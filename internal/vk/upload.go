package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// maxPhotoBytes caps the size of a downloaded source image.
const maxPhotoBytes = 50 << 20

// UploadMessagesPhoto downloads the image at sourceURL, uploads it to the
// given upload target, and commits it via photos.saveMessagesPhoto. The
// returned Photo converts to the attachment reference string for
// messages.send.
func (c *Client) UploadMessagesPhoto(ctx context.Context, server UploadServer, sourceURL string) (Photo, error) {
	data, err := c.downloadPhoto(ctx, sourceURL)
	if err != nil {
		return Photo{}, fmt.Errorf("download photo: %w", err)
	}

	uploaded, err := c.postPhotoForm(ctx, server.UploadURL, data)
	if err != nil {
		return Photo{}, fmt.Errorf("upload photo: %w", err)
	}

	params := url.Values{}
	params.Set("server", strconv.FormatInt(uploaded.Server, 10))
	params.Set("photo", uploaded.Photo)
	params.Set("hash", uploaded.Hash)
	var photos []Photo
	if err := c.call(ctx, "photos.saveMessagesPhoto", params, &photos); err != nil {
		return Photo{}, fmt.Errorf("save photo: %w", err)
	}
	if len(photos) == 0 {
		return Photo{}, fmt.Errorf("save photo: empty response")
	}
	c.logger.Debug("photo uploaded", slog.String("source_url", sourceURL), slog.String("ref", photos[0].AttachmentRef()))
	return photos[0], nil
}

func (c *Client) downloadPhoto(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes)
	}
	return data, nil
}

type uploadedPhoto struct {
	Server int64  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

func (c *Client) postPhotoForm(ctx context.Context, uploadURL string, data []byte) (uploadedPhoto, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("photo", "photo.jpg")
	if err != nil {
		return uploadedPhoto{}, err
	}
	if _, err := part.Write(data); err != nil {
		return uploadedPhoto{}, err
	}
	if err := writer.Close(); err != nil {
		return uploadedPhoto{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return uploadedPhoto{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uploadedPhoto{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return uploadedPhoto{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return uploadedPhoto{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var uploaded uploadedPhoto
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return uploadedPhoto{}, fmt.Errorf("decode upload response: %w", err)
	}
	if uploaded.Photo == "" || uploaded.Photo == "[]" {
		return uploadedPhoto{}, fmt.Errorf("upload rejected by server")
	}
	return uploaded, nil
}
