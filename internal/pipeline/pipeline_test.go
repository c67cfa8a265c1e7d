package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"textcast/internal/db"
	"textcast/internal/enrich"
	"textcast/internal/extract"
	"textcast/internal/fetch"
	"textcast/internal/models"
	"textcast/internal/test"
	"textcast/internal/tts"
	"textcast/pkg/tasks"
)

type stubFetcher struct {
	html  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	s.calls++
	return s.html, s.err
}

type stubExtractor struct {
	article extract.Article
	err     error
	calls   int
}

func (s *stubExtractor) Extract(html string) (extract.Article, error) {
	s.calls++
	return s.article, s.err
}

type stubReader struct {
	content string
	err     error
	calls   int
}

func (s *stubReader) FetchContent(ctx context.Context, targetURL string) (string, error) {
	s.calls++
	return s.content, s.err
}

type stubEnricher struct {
	data       enrich.Data
	err        error
	calls      int
	lastText   string
	lastSource string
}

func (s *stubEnricher) Enrich(ctx context.Context, text, sourceType string, episodeID int) (enrich.Data, error) {
	s.calls++
	s.lastText = text
	s.lastSource = sourceType
	return s.data, s.err
}

type stubSynth struct {
	audio    []byte
	err      error
	calls    int
	lastText string
}

func (s *stubSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	s.calls++
	s.lastText = text
	return s.audio, s.err
}

type stubStorage struct {
	uploads map[string][]byte
	deletes []string
	err     error
}

func newStubStorage() *stubStorage {
	return &stubStorage{uploads: map[string][]byte{}}
}

func (s *stubStorage) Upload(ctx context.Context, path string, content []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.uploads[path] = content
	return "http://storage.test/" + path, nil
}

func (s *stubStorage) Delete(ctx context.Context, path string) error {
	s.deletes = append(s.deletes, path)
	return nil
}

func (s *stubStorage) Read(ctx context.Context, path string) ([]byte, error) {
	return s.uploads[path], nil
}

type stubNotifier struct {
	notified []int
	err      error
}

func (s *stubNotifier) NotifyFirstEpisodeReady(user *models.User, episode *models.Episode) error {
	s.notified = append(s.notified, episode.ID)
	return s.err
}

type deps struct {
	fetcher   *stubFetcher
	extractor *stubExtractor
	reader    *stubReader
	enricher  *stubEnricher
	synth     *stubSynth
	store     *stubStorage
	notifier  *stubNotifier
	enqueuer  *test.MockTaskEnqueuer
}

func newTestPipeline() (*Pipeline, *deps) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	d := &deps{
		fetcher:   &stubFetcher{},
		extractor: &stubExtractor{},
		reader:    &stubReader{},
		enricher:  &stubEnricher{},
		synth:     &stubSynth{audio: []byte("mp3-bytes")},
		store:     newStubStorage(),
		notifier:  &stubNotifier{},
		enqueuer:  &test.MockTaskEnqueuer{},
	}
	limits := Limits{
		LowQualityChars:        500,
		LowQualityHTMLMinBytes: 10000,
		CharacterLimitFor: func(tier string) int {
			if tier == "unlimited" {
				return 0
			}
			return 15000
		},
	}
	p := New(d.fetcher, d.extractor, d.reader, d.enricher, d.synth, d.store, d.notifier, d.enqueuer, limits, log)
	return p, d
}

var episodeColumns = []string{
	"id", "user_id", "source_type", "source_url", "source_text", "source_text_length",
	"status", "title", "author", "description", "content_preview", "audio_uuid",
	"audio_path", "audio_size_bytes", "duration_seconds", "voice", "error_message",
	"processing_started_at", "processing_completed_at", "created_at",
}

func episodeRow(id int, sourceType string, sourceURL, sourceText *string, status string) *sqlmock.Rows {
	var length *int
	if sourceText != nil {
		n := len([]rune(*sourceText))
		length = &n
	}
	return sqlmock.NewRows(episodeColumns).AddRow(
		id, int64(7), sourceType, sourceURL, sourceText, length,
		status, "", "", "", nil, "audio-uuid-1",
		nil, nil, nil, "wren", nil,
		nil, nil, time.Now(),
	)
}

var userColumns = []string{
	"id", "email", "api_token", "rss_uuid", "tier", "voice", "telegram_chat_id",
	"created_at", "updated_at",
}

func userRow(tier string) *sqlmock.Rows {
	return sqlmock.NewRows(userColumns).AddRow(
		int64(7), "reader@example.com", "token-1", "rss-uuid-1", tier, "kestrel", nil,
		time.Now(), time.Now(),
	)
}

func expectLoadAndClaim(mock sqlmock.Sqlmock, rows *sqlmock.Rows, tier string) {
	mock.ExpectQuery("SELECT \\* FROM episodes WHERE id").WillReturnRows(rows)
	mock.ExpectQuery("SELECT \\* FROM users WHERE id").WillReturnRows(userRow(tier))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectFailure(mock sqlmock.Sqlmock, message string) {
	mock.ExpectExec("UPDATE episodes").
		WithArgs(db.StatusFailed, message, 1, db.StatusComplete, db.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func strptr(s string) *string { return &s }

func TestProcessPasteEpisodeCompletes(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.enricher.data = enrich.Data{Title: "T", Author: "A", Description: "D", Content: "C"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypePaste, nil, strptr("some pasted words"), db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").
		WithArgs("T", "A", "D", strptr("C"), 1, db.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := p.Process(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, d.enricher.calls)
	assert.Equal(t, "some pasted words", d.enricher.lastText)
	assert.Equal(t, db.SourceTypePaste, d.enricher.lastSource)
	assert.Equal(t, 1, d.synth.calls)
	assert.Equal(t, "T, by A. C", d.synth.lastText)
	assert.Zero(t, d.fetcher.calls)
	assert.Len(t, d.store.uploads, 1)
	for path := range d.store.uploads {
		assert.True(t, strings.HasPrefix(path, "episodes/"))
		assert.True(t, strings.HasSuffix(path, "-t.mp3"))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessURLEpisodeFetchFailure(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.fetcher.err = &fetch.Error{Kind: fetch.KindHTTPError, Message: "status 404"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypeURL, strptr("http://example.com/gone"), nil, db.StatusPending), "free")
	expectFailure(mock, "Could not fetch URL")

	err := p.Process(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, d.fetcher.calls)
	assert.Zero(t, d.enricher.calls)
	assert.Zero(t, d.synth.calls)
	assert.Empty(t, d.store.uploads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessBlockedURLFailsWithGenericMessage(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.fetcher.err = &fetch.Error{Kind: fetch.KindBlocked, Message: "resolved to 169.254.169.254"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypeURL, strptr("http://metadata.internal/"), nil, db.StatusPending), "free")
	expectFailure(mock, "URL not allowed")

	require.NoError(t, p.Process(context.Background(), 1))
	assert.Zero(t, d.enricher.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessURLEpisodeUsesExtraction(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.fetcher.html = "<html>" + strings.Repeat("x", 20000) + "</html>"
	d.extractor.article = extract.Article{Text: strings.Repeat("long article text ", 50)}
	d.enricher.data = enrich.Data{Title: "Article", Author: "Unknown", Content: "cleaned"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypeURL, strptr("http://example.com/a"), nil, db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	require.NoError(t, p.Process(context.Background(), 1))

	assert.Equal(t, 1, d.extractor.calls)
	assert.Zero(t, d.reader.calls, "healthy extraction must not hit the reader service")
	assert.Equal(t, d.extractor.article.Text, d.enricher.lastText)
	// Author "Unknown" is a placeholder; the intro line should not credit it.
	assert.Equal(t, "Article. cleaned", d.synth.lastText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestURLEpisodePrefersHTMLMetadata(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.fetcher.html = "<html><head><title>Page Title</title></head></html>"
	d.extractor.article = extract.Article{
		Text:   strings.Repeat("body text ", 60),
		Title:  "Page Title",
		Author: "Page Author",
	}
	d.enricher.data = enrich.Data{Title: "Model Title", Author: "Model Author", Description: "D", Content: "cleaned"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypeURL, strptr("http://example.com/a"), nil, db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").
		WithArgs("Page Title", "Page Author", "D", strptr("cleaned"), 1, db.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	require.NoError(t, p.Process(context.Background(), 1))
	assert.Equal(t, "Page Title, by Page Author. cleaned", d.synth.lastText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLowQualityExtractionFallsBackToReader(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.fetcher.html = strings.Repeat("<div class='app'></div>", 1000)
	d.extractor.article = extract.Article{Text: "sparse text from a js-heavy page", Title: "Page Title"}
	d.reader.content = strings.Repeat("full article recovered by the reader service ", 30)
	d.enricher.data = enrich.Data{Title: "T", Content: "C"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypeURL, strptr("http://example.com/spa"), nil, db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	require.NoError(t, p.Process(context.Background(), 1))

	assert.Equal(t, 1, d.reader.calls)
	assert.Equal(t, d.reader.content, d.enricher.lastText)
	// The reader only replaces the text; the page's own title still wins.
	assert.True(t, strings.HasPrefix(d.synth.lastText, "Page Title. "), d.synth.lastText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaderFailureDegradesToLocalExtraction(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.fetcher.html = strings.Repeat("<div></div>", 2000)
	d.extractor.article = extract.Article{Text: "sparse but usable local extraction"}
	d.reader.err = errors.New("reader down")
	d.enricher.data = enrich.Data{Title: "T", Content: "C"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypeURL, strptr("http://example.com/x"), nil, db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	require.NoError(t, p.Process(context.Background(), 1))

	assert.Equal(t, 1, d.reader.calls)
	assert.Equal(t, d.extractor.article.Text, d.enricher.lastText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmptyExtractionWithFailedReaderFailsEpisode(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.fetcher.html = "<html><body></body></html>"
	d.extractor.err = extract.ErrInsufficientContent
	d.reader.err = errors.New("reader down")

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypeURL, strptr("http://example.com/empty"), nil, db.StatusPending), "free")
	expectFailure(mock, "Could not extract article content")

	require.NoError(t, p.Process(context.Background(), 1))
	assert.Equal(t, 1, d.reader.calls)
	assert.Zero(t, d.enricher.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCharacterLimitFailsBeforeEnrichment(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	long := strings.Repeat("a", 15001)

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypePaste, nil, &long, db.StatusPending), "free")
	expectFailure(mock, "Content too long to process")

	require.NoError(t, p.Process(context.Background(), 1))
	assert.Zero(t, d.enricher.calls, "limit check must run before the enrichment call")
	assert.Zero(t, d.synth.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlimitedTierSkipsCharacterLimit(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	long := strings.Repeat("a", 60000)
	d.enricher.data = enrich.Data{Title: "T", Content: "C"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypePaste, nil, &long, db.StatusPending), "unlimited")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	require.NoError(t, p.Process(context.Background(), 1))
	assert.Equal(t, 1, d.enricher.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileEpisodeSkipsEnrichment(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	doc := "# Heading\n\nSome **bold** prose."

	rows := sqlmock.NewRows(episodeColumns).AddRow(
		1, int64(7), db.SourceTypeFile, nil, &doc, len([]rune(doc)),
		db.StatusPending, "My Document", "", "", nil, "audio-uuid-1",
		nil, nil, nil, "wren", nil,
		nil, nil, time.Now(),
	)
	expectLoadAndClaim(mock, rows, "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	require.NoError(t, p.Process(context.Background(), 1))

	assert.Zero(t, d.enricher.calls, "file episodes go straight to synthesis")
	assert.Equal(t, "My Document. Heading\n\nSome bold prose.", d.synth.lastText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllChunksFilteredFailsEpisode(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.enricher.data = enrich.Data{Title: "T", Content: "C"}
	d.synth.err = tts.ErrAllChunksSkipped

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypePaste, nil, strptr("text"), db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	expectFailure(mock, "Could not generate audio")

	require.NoError(t, p.Process(context.Background(), 1))
	assert.Empty(t, d.store.uploads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletionRaceDeletesOrphanedAudio(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.enricher.data = enrich.Data{Title: "T", Content: "C"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypePaste, nil, strptr("text"), db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	// Success update matches no rows: the episode left processing underneath us.
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Process(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrStaleStatus)
	assert.Len(t, d.store.deletes, 1, "uploaded audio must be cleaned up")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminalEpisodeIsSkipped(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()

	mock.ExpectQuery("SELECT \\* FROM episodes WHERE id").
		WillReturnRows(episodeRow(1, db.SourceTypePaste, nil, strptr("text"), db.StatusComplete))

	require.NoError(t, p.Process(context.Background(), 1))
	assert.Zero(t, d.enricher.calls)
	assert.Zero(t, d.synth.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFirstCompletionTriggersNotificationAndRefit(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.enricher.data = enrich.Data{Title: "T", Content: "C"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypePaste, nil, strptr("text"), db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	require.NoError(t, p.Process(context.Background(), 1))

	assert.Equal(t, []int{1}, d.notifier.notified)
	require.Len(t, d.enqueuer.EnqueuedTasks, 1)
	assert.Equal(t, tasks.TypeRefitEstimate, d.enqueuer.EnqueuedTasks[0].Type())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLaterCompletionsDoNotNotify(t *testing.T) {
	_, mock := test.NewMockDB(t)
	p, d := newTestPipeline()
	d.enricher.data = enrich.Data{Title: "T", Content: "C"}

	expectLoadAndClaim(mock, episodeRow(1, db.SourceTypePaste, nil, strptr("text"), db.StatusPending), "free")
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE episodes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	require.NoError(t, p.Process(context.Background(), 1))

	assert.Empty(t, d.notifier.notified)
	assert.Len(t, d.enqueuer.EnqueuedTasks, 1, "refit runs after every completion")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreview(t *testing.T) {
	short := "short content"
	assert.Equal(t, short, Preview(short))

	// Content within 10 chars of the 120 budget is kept whole.
	borderline := strings.Repeat("x", 130)
	assert.Equal(t, borderline, Preview(borderline))

	long := strings.Repeat("a", 60) + strings.Repeat("b", 100) + strings.Repeat("c", 60)
	got := Preview(long)
	assert.Equal(t, strings.Repeat("a", 57)+"... "+strings.Repeat("c", 57), got)
}

func TestUserMessageNeverLeaksDetail(t *testing.T) {
	raw := errors.New("Post \"https://tts.internal:8443\": dial tcp: connection refused")
	assert.Equal(t, "Processing failed", userMessage(raw))

	prov := &tts.ProviderError{Kind: tts.KindRateLimited, Message: "quota exceeded for project x"}
	assert.Equal(t, "Could not generate audio", userMessage(prov))
}
