package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/vkchatbot/vkchatbot/internal/config"
)

const defaultSize = "1024x1024"

// Client talks to an OpenAI-compatible image generation endpoint.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
}

// NewClient creates an image client from config.
func NewClient(log *slog.Logger, cfg config.OpenAIConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultOpenAIBase
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("service", "image")),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
	}
}

type imagesResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("openai: %s (%s)", e.Message, e.Type)
}

// Generate produces one image from a text prompt and returns its URL.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"n":      1,
		"size":   defaultSize,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	urls, err := c.doImages(req)
	if err != nil {
		return "", err
	}
	return urls[0], nil
}

// Variations produces n variations of the given image and returns their URLs.
func (c *Client) Variations(ctx context.Context, imageBytes []byte, n int) ([]string, error) {
	if n <= 0 {
		n = 1
	}
	req, err := c.multipartRequest(ctx, "/images/variations", imageBytes, map[string]string{
		"n":    strconv.Itoa(n),
		"size": defaultSize,
	})
	if err != nil {
		return nil, err
	}
	return c.doImages(req)
}

// Edit redraws the given image according to the prompt and returns the URL of
// the result.
func (c *Client) Edit(ctx context.Context, imageBytes []byte, prompt string) (string, error) {
	req, err := c.multipartRequest(ctx, "/images/edits", imageBytes, map[string]string{
		"prompt": prompt,
		"n":      "1",
		"size":   defaultSize,
	})
	if err != nil {
		return "", err
	}
	urls, err := c.doImages(req)
	if err != nil {
		return "", err
	}
	return urls[0], nil
}

func (c *Client) multipartRequest(ctx context.Context, path string, imageBytes []byte, fields map[string]string) (*http.Request, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(imageBytes); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req, nil
}

func (c *Client) doImages(req *http.Request) ([]string, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call images: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image response: %w", err)
	}
	var decoded imagesResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("image call returned no results (status %d)", resp.StatusCode)
	}
	urls := make([]string, len(decoded.Data))
	for i, item := range decoded.Data {
		urls[i] = item.URL
	}
	return urls, nil
}
