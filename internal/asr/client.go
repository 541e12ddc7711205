// Package asr is the client for the external speech-to-text model. The
// model is served locally and invoked synchronously: a POST of raw audio
// bytes answered with the transcript as plain text.
package asr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modwatch/pipeline/internal/metrics"
)

// ErrUnavailable wraps transport failures and non-2xx responses so callers
// can treat them as retryable external service errors.
var ErrUnavailable = errors.New("asr: speech model unavailable")

const defaultTimeout = 2 * time.Minute

// Client calls the speech model.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a client for the given transcription URL. A
// non-positive timeout selects the default.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

// Transcribe sends audio bytes and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("asr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	metrics.TranscriptionLatency.Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, snippet)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("asr: read response: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}
