package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// ErrUnavailable covers every way the reader service can fail. Callers
// degrade gracefully to the original extraction, so the distinction between
// failure modes only matters in the logs.
var ErrUnavailable = errors.New("Could not fetch content from reader service")

// Client fetches a rendered plain-text version of an article from a reader
// service (Jina-style API: GET {base}/{url} returning {"data":{"content":...}}).
type Client struct {
	baseURL    string
	maxBytes   int64
	httpClient *http.Client
	log        *logrus.Entry
}

func New(baseURL string, maxBytes int64, timeout time.Duration, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxBytes:   maxBytes,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type readerResponse struct {
	Data struct {
		Content string `json:"content"`
	} `json:"data"`
}

// FetchContent retrieves the reader-rendered text for targetURL. Transient
// server errors are retried briefly with exponential backoff before giving
// up.
func (c *Client) FetchContent(ctx context.Context, targetURL string) (string, error) {
	var content string

	operation := func() error {
		body, err := c.fetchOnce(ctx, targetURL)
		if err != nil {
			return err
		}
		content = body
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", ErrUnavailable
	}
	return content, nil
}

func (c *Client) fetchOnce(ctx context.Context, targetURL string) (string, error) {
	readerURL := fmt.Sprintf("%s/%s", c.baseURL, targetURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readerURL, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithFields(logrus.Fields{"event": "reader_fetch_connection_failed", "url": targetURL}).
			WithError(err).Warn("reader request failed")
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.log.WithFields(logrus.Fields{"event": "reader_fetch_http_error", "url": targetURL, "status": resp.StatusCode}).
			Warn("reader server error")
		return "", fmt.Errorf("reader status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WithFields(logrus.Fields{"event": "reader_fetch_http_error", "url": targetURL, "status": resp.StatusCode}).
			Warn("reader rejected request")
		return "", backoff.Permanent(fmt.Errorf("reader status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > c.maxBytes {
		c.log.WithFields(logrus.Fields{"event": "reader_fetch_too_large", "url": targetURL, "bytes": len(body)}).
			Warn("reader response too large")
		return "", backoff.Permanent(errors.New("reader response too large"))
	}

	var parsed readerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.log.WithFields(logrus.Fields{"event": "reader_fetch_json_parse_error", "url": targetURL}).
			Warn("reader returned invalid JSON")
		return "", backoff.Permanent(err)
	}
	if strings.TrimSpace(parsed.Data.Content) == "" {
		c.log.WithFields(logrus.Fields{"event": "reader_fetch_empty_content", "url": targetURL}).
			Warn("reader returned no content")
		return "", backoff.Permanent(errors.New("reader returned empty content"))
	}

	c.log.WithFields(logrus.Fields{"event": "reader_fetch_success", "url": targetURL, "bytes": len(parsed.Data.Content)}).
		Info("reader content fetched")
	return parsed.Data.Content, nil
}
