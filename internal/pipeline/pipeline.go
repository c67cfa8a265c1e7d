package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"textcast/internal/db"
	"textcast/internal/enrich"
	"textcast/internal/extract"
	"textcast/internal/fetch"
	"textcast/internal/markdown"
	"textcast/internal/models"
	"textcast/internal/notify"
	"textcast/internal/reader"
	"textcast/internal/storage"
	"textcast/internal/tts"
	"textcast/pkg/tasks"
)

// User-safe failure messages. error_message is shown to end users verbatim,
// so nothing here may leak provider detail or internal hostnames.
const (
	msgAudioFailed      = "Could not generate audio"
	msgProcessingFailed = "Processing failed"
)

var errNoSourceText = errors.New("No content to process")

// audioBitrateBitsPerSecond is the mp3 encode rate the TTS provider uses.
// Duration is derived from the audio byte size rather than parsing frames.
const audioBitrateBitsPerSecond = 48000

const (
	previewEdgeChars = 60
	previewEllipsis  = "..."
)

// ContentFetcher retrieves raw HTML from a user-supplied URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// ArticleExtractor pulls readable text out of fetched HTML.
type ArticleExtractor interface {
	Extract(html string) (extract.Article, error)
}

// ReaderClient is the fallback extraction service for pages the local
// extractor handles poorly.
type ReaderClient interface {
	FetchContent(ctx context.Context, targetURL string) (string, error)
}

// MetadataEnricher produces title/author/description and cleaned content.
type MetadataEnricher interface {
	Enrich(ctx context.Context, text, sourceType string, episodeID int) (enrich.Data, error)
}

// AudioSynthesizer turns narration text into audio bytes.
type AudioSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Limits are the per-episode content bounds the pipeline enforces before
// spending money on AI or TTS calls.
type Limits struct {
	// LowQualityChars marks an extraction as suspect when it yields fewer
	// characters from a substantial page.
	LowQualityChars int
	// LowQualityHTMLMinBytes is the page size above which a sparse
	// extraction triggers the reader fallback.
	LowQualityHTMLMinBytes int
	// CharacterLimitFor maps an account tier to its per-episode character
	// limit. Zero means unlimited.
	CharacterLimitFor func(tier string) int
}

// Pipeline drives one episode from pending to complete or failed. All
// collaborators are injected; the asynq task handler owns construction.
type Pipeline struct {
	fetcher   ContentFetcher
	extractor ArticleExtractor
	reader    ReaderClient
	enricher  MetadataEnricher
	synth     AudioSynthesizer
	store     storage.Storage
	notifier  notify.Notifier
	enqueuer  tasks.TaskEnqueuer
	limits    Limits
	log       *logrus.Logger
}

func New(
	fetcher ContentFetcher,
	extractor ArticleExtractor,
	readerClient ReaderClient,
	enricher MetadataEnricher,
	synth AudioSynthesizer,
	store storage.Storage,
	notifier notify.Notifier,
	enqueuer tasks.TaskEnqueuer,
	limits Limits,
	log *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		reader:    readerClient,
		enricher:  enricher,
		synth:     synth,
		store:     store,
		notifier:  notifier,
		enqueuer:  enqueuer,
		limits:    limits,
		log:       log,
	}
}

// prepared is the outcome of the per-source-kind entry sequence: narration
// content plus the metadata to persist.
type prepared struct {
	Title       string
	Author      string
	Description string
	Content     string
}

// Process runs the full state machine for one episode. Stage failures are
// terminal: the episode is marked failed with a user-safe message and
// Process returns nil so the queue does not retry it. Only infrastructure
// errors (database unavailable, stale status races) bubble up.
func (p *Pipeline) Process(ctx context.Context, episodeID int) error {
	log := p.log.WithFields(logrus.Fields{
		"component":  "pipeline",
		"episode_id": episodeID,
	})

	episode, err := db.GetEpisodeByID(episodeID)
	if err != nil {
		return fmt.Errorf("failed to load episode %d: %w", episodeID, err)
	}
	if episode.Status == db.StatusComplete || episode.Status == db.StatusFailed {
		log.WithField("event", "episode_skipped").WithField("status", episode.Status).
			Info("Episode already in a terminal state")
		return nil
	}

	user, err := db.GetUserByID(episode.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", episode.UserID, err)
	}

	if err := db.MarkEpisodeProcessing(episode.ID, episode.Status); err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			log.WithField("event", "episode_claim_lost").Info("Episode claimed elsewhere")
			return nil
		}
		return fmt.Errorf("failed to mark episode %d processing: %w", episodeID, err)
	}

	result, err := p.prepare(ctx, &episode, user)
	if err != nil {
		return p.fail(log, episode.ID, err)
	}

	preview := Preview(result.Content)
	if err := db.UpdateEpisodeMetadata(episode.ID, result.Title, result.Author, result.Description, &preview); err != nil {
		return fmt.Errorf("failed to persist metadata for episode %d: %w", episodeID, err)
	}

	narration := wrapContent(result)
	audio, err := p.synth.Synthesize(ctx, narration, p.voiceFor(&episode, user))
	if err != nil {
		return p.fail(log, episode.ID, err)
	}

	audioPath := audioObjectPath(result.Title)
	if _, err := p.store.Upload(ctx, audioPath, audio); err != nil {
		log.WithField("event", "audio_upload_failed").WithError(err).Error("Audio upload failed")
		return p.fail(log, episode.ID, errors.New(msgAudioFailed))
	}

	duration := len(audio) * 8 / audioBitrateBitsPerSecond
	if err := db.UpdateEpisodeProcessingSuccess(episode.ID, audioPath, int64(len(audio)), duration); err != nil {
		// The row moved out from under us; the uploaded file has no owner.
		if delErr := p.store.Delete(ctx, audioPath); delErr != nil {
			log.WithField("event", "orphan_cleanup_failed").WithError(delErr).
				Warn("Could not delete orphaned audio")
		}
		return fmt.Errorf("failed to complete episode %d: %w", episodeID, err)
	}

	log.WithFields(logrus.Fields{
		"event":            "episode_complete",
		"audio_path":       audioPath,
		"audio_bytes":      len(audio),
		"duration_seconds": duration,
	}).Info("Episode processing complete")

	p.afterCompletion(log, &episode, user, result.Title)
	return nil
}

// prepare runs the source-kind entry sequence and returns narration content
// plus metadata.
func (p *Pipeline) prepare(ctx context.Context, episode *models.Episode, user *models.User) (prepared, error) {
	switch episode.SourceType {
	case db.SourceTypeURL:
		return p.prepareFromURL(ctx, episode, user)
	case db.SourceTypeFile:
		return p.prepareFromFile(episode)
	default: // paste, email, extension
		return p.prepareFromText(ctx, episode, user)
	}
}

func (p *Pipeline) prepareFromURL(ctx context.Context, episode *models.Episode, user *models.User) (prepared, error) {
	if episode.SourceURL == nil || *episode.SourceURL == "" {
		return prepared{}, errNoSourceText
	}

	html, err := p.fetcher.Fetch(ctx, *episode.SourceURL)
	if err != nil {
		return prepared{}, err
	}

	article, err := p.extractWithFallback(ctx, episode, html)
	if err != nil {
		return prepared{}, err
	}

	if err := p.checkCharacterLimit(user, article.Text); err != nil {
		return prepared{}, err
	}
	result, err := p.enrichText(ctx, episode, article.Text)
	if err != nil {
		return prepared{}, err
	}
	// Metadata from the page itself beats the model's guess.
	if article.Title != "" {
		result.Title = article.Title
	}
	if article.Author != "" {
		result.Author = article.Author
	}
	return result, nil
}

// extractWithFallback runs the local extractor and, when the result looks
// low quality for the page size (or extraction finds nothing at all), tries
// the reader service once. Reader failure after a usable local extraction
// degrades back to the local text instead of failing the episode. The
// reader only ever replaces the article text; HTML-derived title and
// author survive the substitution.
func (p *Pipeline) extractWithFallback(ctx context.Context, episode *models.Episode, html string) (extract.Article, error) {
	log := p.log.WithFields(logrus.Fields{
		"component":  "pipeline",
		"episode_id": episode.ID,
	})

	article, extractErr := p.extractor.Extract(html)
	if extractErr != nil {
		if !errors.Is(extractErr, extract.ErrInsufficientContent) {
			return extract.Article{}, extractErr
		}
		// Nothing usable locally; the reader is the only option left.
		text, readerErr := p.reader.FetchContent(ctx, *episode.SourceURL)
		if readerErr != nil {
			log.WithField("event", "reader_fallback_failed").WithError(readerErr).
				Warn("Reader fallback failed after empty extraction")
			return extract.Article{}, extractErr
		}
		return extract.Article{Text: text}, nil
	}

	if article.CharacterCount() >= p.limits.LowQualityChars || len(html) < p.limits.LowQualityHTMLMinBytes {
		return article, nil
	}

	log.WithFields(logrus.Fields{
		"event":           "low_quality_extraction",
		"extracted_chars": article.CharacterCount(),
		"html_bytes":      len(html),
	}).Info("Sparse extraction from a large page, trying reader service")

	text, readerErr := p.reader.FetchContent(ctx, *episode.SourceURL)
	if readerErr != nil || len([]rune(text)) <= article.CharacterCount() {
		if readerErr != nil {
			log.WithField("event", "reader_fallback_failed").WithError(readerErr).
				Warn("Reader fallback failed, keeping local extraction")
		}
		return article, nil
	}
	article.Text = text
	return article, nil
}

func (p *Pipeline) prepareFromText(ctx context.Context, episode *models.Episode, user *models.User) (prepared, error) {
	if episode.SourceText == nil || strings.TrimSpace(*episode.SourceText) == "" {
		return prepared{}, errNoSourceText
	}
	text := *episode.SourceText
	if err := p.checkCharacterLimit(user, text); err != nil {
		return prepared{}, err
	}
	return p.enrichText(ctx, episode, text)
}

// prepareFromFile handles uploaded documents: markdown is stripped to plain
// text and the episode's own metadata is kept, no enrichment call.
func (p *Pipeline) prepareFromFile(episode *models.Episode) (prepared, error) {
	if episode.SourceText == nil || strings.TrimSpace(*episode.SourceText) == "" {
		return prepared{}, errNoSourceText
	}
	title := episode.Title
	if title == "" {
		title = enrich.DefaultTitle
	}
	author := episode.Author
	if author == "" {
		author = enrich.DefaultAuthor
	}
	return prepared{
		Title:       title,
		Author:      author,
		Description: episode.Description,
		Content:     markdown.Strip(*episode.SourceText),
	}, nil
}

func (p *Pipeline) enrichText(ctx context.Context, episode *models.Episode, text string) (prepared, error) {
	data, err := p.enricher.Enrich(ctx, text, episode.SourceType, episode.ID)
	if err != nil {
		return prepared{}, err
	}
	return prepared{
		Title:       data.Title,
		Author:      data.Author,
		Description: data.Description,
		Content:     data.Content,
	}, nil
}

func (p *Pipeline) checkCharacterLimit(user *models.User, text string) error {
	limit := p.limits.CharacterLimitFor(user.Tier)
	if limit > 0 && len([]rune(text)) > limit {
		return enrich.ErrTooLong
	}
	return nil
}

func (p *Pipeline) voiceFor(episode *models.Episode, user *models.User) string {
	if episode.Voice != "" {
		return episode.Voice
	}
	return user.Voice
}

// afterCompletion runs the non-critical side effects: the first-episode
// notification and the ETA model refit. Neither may fail the episode.
func (p *Pipeline) afterCompletion(log *logrus.Entry, episode *models.Episode, user *models.User, title string) {
	count, err := db.CountCompletedEpisodesByUserID(user.ID)
	if err != nil {
		log.WithField("event", "completion_count_failed").WithError(err).
			Warn("Could not count completed episodes")
	} else if count == 1 {
		notified := *episode
		notified.Title = title
		if err := p.notifier.NotifyFirstEpisodeReady(user, &notified); err != nil {
			log.WithField("event", "notification_failed").WithError(err).
				Warn("First episode notification failed")
		}
	}

	task, err := tasks.NewRefitEstimateTask()
	if err != nil {
		log.WithField("event", "refit_enqueue_failed").WithError(err).
			Warn("Could not build estimate refit task")
		return
	}
	if _, err := p.enqueuer.Enqueue(task); err != nil {
		log.WithField("event", "refit_enqueue_failed").WithError(err).
			Warn("Could not enqueue estimate refit")
	}
}

// fail translates a stage error into a persisted failed episode. The full
// error goes to the log; only the sanitized message reaches the user.
func (p *Pipeline) fail(log *logrus.Entry, episodeID int, cause error) error {
	message := userMessage(cause)
	log.WithFields(logrus.Fields{
		"event":   "episode_failed",
		"message": message,
	}).WithError(cause).Error("Episode processing failed")

	if err := db.UpdateEpisodeProcessingFailed(episodeID, message); err != nil {
		return fmt.Errorf("failed to mark episode %d failed: %w", episodeID, err)
	}
	return nil
}

// userMessage maps stage errors to the short messages stored in
// error_message. Unknown errors get a generic message so provider detail
// never leaks.
func userMessage(err error) string {
	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) {
		return fetch.UserMessage(err)
	}
	switch {
	case errors.Is(err, extract.ErrTooLarge),
		errors.Is(err, extract.ErrInsufficientContent),
		errors.Is(err, reader.ErrUnavailable),
		errors.Is(err, enrich.ErrFailed),
		errors.Is(err, enrich.ErrTooLong):
		return err.Error()
	case errors.Is(err, tts.ErrAllChunksSkipped):
		return msgAudioFailed
	case errors.Is(err, errNoSourceText):
		return err.Error()
	}
	var provErr *tts.ProviderError
	if errors.As(err, &provErr) {
		return msgAudioFailed
	}
	return msgProcessingFailed
}

// Preview returns a short head-and-tail excerpt of the narration content
// shown in episode lists and feed descriptions. Content within 10 chars of
// the full preview budget is kept whole; the ellipsis counts against the
// head edge.
func Preview(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= 2*previewEdgeChars+10 {
		return string(runes)
	}
	edge := previewEdgeChars - len(previewEllipsis)
	head := strings.TrimSpace(string(runes[:edge]))
	tail := strings.TrimSpace(string(runes[len(runes)-edge:]))
	return head + previewEllipsis + " " + tail
}

// wrapContent prepends a spoken intro line so the narration opens with the
// title and author.
func wrapContent(result prepared) string {
	intro := result.Title
	if result.Author != "" && result.Author != enrich.DefaultAuthor {
		intro = fmt.Sprintf("%s, by %s", result.Title, result.Author)
	}
	if intro == "" {
		return result.Content
	}
	return intro + ". " + result.Content
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// audioObjectPath names the stored mp3 after the episode title, with a uuid
// fallback for untitled episodes. Paths only grow; they are never reused.
func audioObjectPath(title string) string {
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" || slug == "untitled" {
		slug = uuid.NewString()
	}
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	return fmt.Sprintf("episodes/%d-%s.mp3", time.Now().Unix(), slug)
}
