package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorKind classifies provider failures into the four buckets the retry
// policy cares about.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindTimeout         ErrorKind = "timeout"
	KindContentFiltered ErrorKind = "content_filtered"
	KindOther           ErrorKind = "other"
)

// ProviderError wraps a synthesis failure with its retry classification.
type ProviderError struct {
	Kind    ErrorKind
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts provider: %s (%s)", e.Message, e.Kind)
}

// KindOf extracts the classification from any error returned by a Provider.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// Provider issues a single synthesis call. Implementations must respect ctx
// and classify failures via ProviderError.
type Provider interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// contentFilterMarker is the phrase the provider puts in rejection bodies
// when input trips its content policy.
const contentFilterMarker = "sensitive or harmful content"

// HTTPProvider talks to a TTS service over HTTP: POST {text, voice} in JSON,
// raw audio bytes back.
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPProvider(endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	reqBody, err := json.Marshal(map[string]string{"text": text, "voice": voice})
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return nil, &ProviderError{Kind: KindTimeout, Message: "request timed out"}
		}
		return nil, &ProviderError{Kind: KindOther, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ProviderError{Kind: KindRateLimited, Message: "rate limit exceeded"}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &ProviderError{Kind: KindTimeout, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	case strings.Contains(string(body), contentFilterMarker):
		return nil, &ProviderError{Kind: KindContentFiltered, Message: "input rejected by content filter"}
	default:
		return nil, &ProviderError{Kind: KindOther, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}
