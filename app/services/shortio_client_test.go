package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amirphl/Kagutsuchi/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortIOClient_Shorten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/links", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("Authorization"))
		var body shortIOCreateReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "go.example.org", body.Domain)
		assert.Equal(t, "https://hub.example.org/?utm_campaign=c", body.OriginalURL)
		_ = json.NewEncoder(w).Encode(shortIOCreateResp{SecureShortURL: "https://go.example.org/abc"})
	}))
	defer srv.Close()

	c := NewShortIOClient(config.ShortIOConfig{APIKey: "key", Domain: "go.example.org", APIBase: srv.URL})
	short, err := c.Shorten(context.Background(), "https://hub.example.org/?utm_campaign=c", "c")
	require.NoError(t, err)
	assert.Equal(t, "https://go.example.org/abc", short)
}

func TestShortIOClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewShortIOClient(config.ShortIOConfig{}).Shorten(context.Background(), "https://x", "")
	assert.ErrorIs(t, err, ErrShortenerDisabled)

	_, err = NewShortIOClient(config.ShortIOConfig{APIKey: "k", Domain: "d", APIBase: srv.URL}).
		Shorten(context.Background(), "https://x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
