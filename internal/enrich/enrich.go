package enrich

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

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"textcast/internal/db"
)

// Every provider, parse and validation failure collapses to this single
// user-facing error; the specific cause goes to the logs only.
var ErrFailed = errors.New("Failed to process content")

// ErrTooLong fires before the provider is called, so an oversized input
// never costs anything.
var ErrTooLong = errors.New("Content too long to process")

const (
	DefaultTitle  = "Untitled"
	DefaultAuthor = "Unknown"
)

// Data is the validated enrichment result.
type Data struct {
	Title       string
	Author      string
	Description string
	Content     string
}

// FieldLimits caps the metadata field lengths; longer values are truncated
// with a trailing ellipsis.
type FieldLimits struct {
	Title       int
	Author      int
	Description int
}

// UsageRecorder persists provider token accounting. Recording failures are
// logged and swallowed; they must never fail the enrichment.
type UsageRecorder interface {
	RecordUsage(episodeID int, model string, inputTokens, outputTokens int) error
}

// DBUsageRecorder writes usage rows through internal/db.
type DBUsageRecorder struct{}

func (DBUsageRecorder) RecordUsage(episodeID int, model string, inputTokens, outputTokens int) error {
	return db.RecordLLMUsage(episodeID, model, inputTokens, outputTokens)
}

// Enricher asks an LLM for title/author/description plus TTS-ready content,
// with a schema-constrained response.
type Enricher struct {
	endpoint   string
	apiKey     string
	model      string
	maxChars   int
	limits     FieldLimits
	httpClient *http.Client
	recorder   UsageRecorder
	log        *logrus.Entry
}

type Options struct {
	Endpoint string
	APIKey   string
	Model    string
	MaxChars int
	Limits   FieldLimits
	Timeout  time.Duration
	Recorder UsageRecorder
	Logger   *logrus.Entry
}

func New(opts Options) *Enricher {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Limits.Title <= 0 {
		opts.Limits.Title = 255
	}
	if opts.Limits.Author <= 0 {
		opts.Limits.Author = 255
	}
	if opts.Limits.Description <= 0 {
		opts.Limits.Description = 1000
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Enricher{
		endpoint:   opts.Endpoint,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxChars:   opts.MaxChars,
		limits:     opts.Limits,
		httpClient: &http.Client{Timeout: opts.Timeout},
		recorder:   opts.Recorder,
		log:        opts.Logger,
	}
}

// responseSchema constrains the provider to the exact JSON object we parse.
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":       map[string]any{"type": "string", "description": "The title of the article"},
		"author":      map[string]any{"type": "string", "description": "The author of the article"},
		"description": map[string]any{"type": "string", "description": "A brief description of the article"},
		"content":     map[string]any{"type": "string", "description": "The full article content, cleaned and formatted for text-to-speech"},
	},
	"required": []string{"title", "author", "description", "content"},
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Enrich sends text to the provider and returns validated metadata plus the
// cleaned content. sourceType picks the prompt variant; episodeID is only
// used for usage accounting.
func (e *Enricher) Enrich(ctx context.Context, text, sourceType string, episodeID int) (Data, error) {
	if e.maxChars > 0 && len([]rune(text)) > e.maxChars {
		e.log.WithFields(logrus.Fields{
			"event":       "llm_input_too_long",
			"input_chars": len([]rune(text)),
			"max_chars":   e.maxChars,
		}).Warn("refusing oversized enrichment input")
		return Data{}, ErrTooLong
	}

	e.log.WithFields(logrus.Fields{
		"event":       "llm_request_started",
		"input_chars": len([]rune(text)),
		"model":       e.model,
	}).Info("asking LLM")

	raw, usage, err := e.ask(ctx, buildPrompt(sourceType, text))
	if err != nil {
		e.log.WithField("event", "llm_api_error").WithError(err).Error("provider call failed")
		return Data{}, ErrFailed
	}

	e.log.WithFields(logrus.Fields{
		"event":         "llm_response_received",
		"input_tokens":  usage.PromptTokens,
		"output_tokens": usage.CompletionTokens,
	}).Info("LLM responded")

	parsed, err := parseResponse(raw)
	if err != nil {
		e.log.WithField("event", "llm_json_parse_error").WithError(err).Error("malformed provider response")
		return Data{}, ErrFailed
	}

	data, err := e.validateAndSanitize(parsed)
	if err != nil {
		e.log.WithField("event", "llm_validation_error").WithError(err).Error("provider response failed validation")
		return Data{}, ErrFailed
	}

	if e.recorder != nil {
		if err := e.recorder.RecordUsage(episodeID, e.model, usage.PromptTokens, usage.CompletionTokens); err != nil {
			e.log.WithField("event", "llm_usage_record_failed").WithError(err).Warn("usage not recorded")
		}
	}

	e.log.WithFields(logrus.Fields{
		"event":           "llm_request_completed",
		"extracted_title": data.Title,
	}).Info("enrichment complete")
	return data, nil
}

type tokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

func (e *Enricher) ask(ctx context.Context, prompt string) (string, tokenUsage, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": e.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "enrichment",
				"schema": responseSchema,
			},
		},
	})
	if err != nil {
		return "", tokenUsage{}, err
	}

	var parsed chatResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("llm server error: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("llm request rejected: status %d", resp.StatusCode))
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("unexpected llm response: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(errors.New("llm response has no choices"))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", tokenUsage{}, err
	}
	return parsed.Choices[0].Message.Content, tokenUsage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// parseResponse strips incidental markdown code fences before decoding.
func parseResponse(content string) (map[string]any, error) {
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	content = strings.TrimSpace(content)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func (e *Enricher) validateAndSanitize(parsed map[string]any) (Data, error) {
	content := extractString(parsed, "content", "")
	if content == "" {
		return Data{}, errors.New("missing content in LLM response")
	}

	return Data{
		Title:       truncate(extractString(parsed, "title", DefaultTitle), e.limits.Title),
		Author:      truncate(extractString(parsed, "author", DefaultAuthor), e.limits.Author),
		Description: truncate(extractString(parsed, "description", ""), e.limits.Description),
		Content:     content,
	}, nil
}

// extractString returns the trimmed string at key, or the default when the
// value is absent, blank, or not a string.
func extractString(parsed map[string]any, key, def string) string {
	value, ok := parsed[key].(string)
	if !ok {
		return def
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}

func truncate(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}

func buildPrompt(sourceType, text string) string {
	var intro string
	switch sourceType {
	case db.SourceTypePaste:
		intro = "The following is text a reader pasted to be narrated as a podcast episode."
	case db.SourceTypeEmail:
		intro = "The following is the body of an email newsletter to be narrated as a podcast episode."
	default:
		intro = "The following is article text extracted from a web page to be narrated as a podcast episode."
	}
	return fmt.Sprintf(`%s

Extract the title, author and a one-paragraph description, and produce the full content cleaned up for text-to-speech narration: remove navigation remnants, footnote markers, URLs and other artifacts that read poorly aloud. Respond with a JSON object with keys "title", "author", "description" and "content".

Text:
%s`, intro, text)
}
