package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/Kagutsuchi/config"
)

// ErrShortenerDisabled is returned when no API key or domain is configured
var ErrShortenerDisabled = errors.New("link shortener is not configured")

// LinkShortener turns a long URL into a short one
type LinkShortener interface {
	Shorten(ctx context.Context, longURL, title string) (string, error)
}

// ShortIOClient performs a single POST /links call against Short.io
type ShortIOClient struct {
	BaseURL    string
	APIKey     string
	Domain     string
	HTTPClient *http.Client
}

func NewShortIOClient(cfg config.ShortIOConfig) *ShortIOClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := cfg.APIBase
	if base == "" {
		base = "https://api.short.io"
	}
	return &ShortIOClient{
		BaseURL:    strings.TrimRight(base, "/"),
		APIKey:     cfg.APIKey,
		Domain:     cfg.Domain,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type shortIOCreateReq struct {
	Domain      string `json:"domain"`
	OriginalURL string `json:"originalURL"`
	Title       string `json:"title,omitempty"`
}

type shortIOCreateResp struct {
	ShortURL       string `json:"shortURL"`
	SecureShortURL string `json:"secureShortURL"`
	Error          string `json:"error"`
}

func (c *ShortIOClient) Shorten(ctx context.Context, longURL, title string) (string, error) {
	if c.APIKey == "" || c.Domain == "" {
		return "", ErrShortenerDisabled
	}

	body, err := json.Marshal(shortIOCreateReq{Domain: c.Domain, OriginalURL: longURL, Title: title})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/links", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("short.io returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out shortIOCreateResp
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode short.io response: %w", err)
	}
	if out.SecureShortURL != "" {
		return out.SecureShortURL, nil
	}
	if out.ShortURL != "" {
		return out.ShortURL, nil
	}
	return "", fmt.Errorf("short.io response carried no short URL: %s", out.Error)
}
