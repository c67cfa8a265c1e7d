package db

import (
	"database/sql"
	"fmt"

	"textcast/internal/models"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

const (
	SourceTypeFile      = "file"
	SourceTypeURL       = "url"
	SourceTypePaste     = "paste"
	SourceTypeExtension = "extension"
	SourceTypeEmail     = "email"
)

// ErrStaleStatus is returned by conditional updates when the episode is no
// longer in the expected state. It prevents lost updates when a row is
// touched from two places.
var ErrStaleStatus = fmt.Errorf("episode status changed underneath update")

func CreateEpisode(userID int64, sourceType string, sourceURL, sourceText *string, voice string) (models.Episode, error) {
	episode := models.Episode{}
	var length *int
	if sourceText != nil {
		n := len([]rune(*sourceText))
		length = &n
	}
	err := DB.Get(&episode, `
		INSERT INTO episodes (user_id, source_type, source_url, source_text, source_text_length, voice)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING *`,
		userID, sourceType, sourceURL, sourceText, length, voice)
	return episode, err
}

func GetEpisodeByID(id int) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode, "SELECT * FROM episodes WHERE id = $1", id)
	return episode, err
}

func GetEpisodeByAudioUUID(uuid string) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode, "SELECT * FROM episodes WHERE audio_uuid = $1", uuid)
	return episode, err
}

func GetEpisodesByUserID(userID int64) ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes, `
		SELECT * FROM episodes
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	return episodes, err
}

func GetCompletedEpisodesByUserID(userID int64) ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes, `
		SELECT * FROM episodes
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC`, userID, StatusComplete)
	return episodes, err
}

// SetEpisodeTitle stores a caller-provided title on a fresh episode. File
// uploads use this; other source kinds get their title from enrichment.
func SetEpisodeTitle(id int, title string) error {
	res, err := DB.Exec(`
		UPDATE episodes SET title = $1 WHERE id = $2 AND status = $3`,
		title, id, StatusPending)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkEpisodeProcessing transitions an episode to processing and records the
// start timestamp. The update only applies if the episode is still in the
// state the caller last saw.
func MarkEpisodeProcessing(id int, fromStatus string) error {
	res, err := DB.Exec(`
		UPDATE episodes
		SET status = $1, processing_started_at = NOW(), error_message = NULL
		WHERE id = $2 AND status = $3`,
		StatusProcessing, id, fromStatus)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateEpisodeMetadata persists the enriched title/author/description and
// content preview while the episode is still processing.
func UpdateEpisodeMetadata(id int, title, author, description string, contentPreview *string) error {
	res, err := DB.Exec(`
		UPDATE episodes
		SET title = $1, author = $2, description = $3, content_preview = $4
		WHERE id = $5 AND status = $6`,
		title, author, description, contentPreview, id, StatusProcessing)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func UpdateEpisodeProcessingSuccess(id int, audioPath string, audioSize int64, durationSeconds int) error {
	res, err := DB.Exec(`
		UPDATE episodes
		SET status = $1, audio_path = $2, audio_size_bytes = $3, duration_seconds = $4,
		    processing_completed_at = NOW()
		WHERE id = $5 AND status = $6`,
		StatusComplete, audioPath, audioSize, durationSeconds, id, StatusProcessing)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateEpisodeProcessingFailed marks the episode failed with the user-facing
// message. failed is terminal; there is no automatic retry.
func UpdateEpisodeProcessingFailed(id int, errorMessage string) error {
	_, err := DB.Exec(`
		UPDATE episodes
		SET status = $1, error_message = $2, processing_completed_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5)`,
		StatusFailed, errorMessage, id, StatusComplete, StatusFailed)
	return err
}

// CountCompletedEpisodesByUserID is used by the first-episode notification.
func CountCompletedEpisodesByUserID(userID int64) (int, error) {
	var count int
	err := DB.Get(&count, "SELECT COUNT(*) FROM episodes WHERE user_id = $1 AND status = $2", userID, StatusComplete)
	return count, err
}

// ProcessingSample is one (source length, processing seconds) data point for
// the ETA regression.
type ProcessingSample struct {
	SourceTextLength  int     `db:"source_text_length"`
	ProcessingSeconds float64 `db:"processing_seconds"`
}

// GetProcessingSamples returns every completed episode with a known source
// length and valid start/end timestamps.
func GetProcessingSamples() ([]ProcessingSample, error) {
	var samples []ProcessingSample
	err := DB.Select(&samples, `
		SELECT source_text_length,
		       EXTRACT(EPOCH FROM (processing_completed_at - processing_started_at)) AS processing_seconds
		FROM episodes
		WHERE status = $1
		  AND source_text_length IS NOT NULL
		  AND processing_started_at IS NOT NULL
		  AND processing_completed_at IS NOT NULL`, StatusComplete)
	return samples, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleStatus
	}
	return nil
}
