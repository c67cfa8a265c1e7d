package models

import "time"

// Episode is the unit of work: one text source turned into one narrated
// audio file published on the owner's feed.
type Episode struct {
	ID                    int        `db:"id"`
	UserID                int64      `db:"user_id"`
	SourceType            string     `db:"source_type"`
	SourceURL             *string    `db:"source_url"`
	SourceText            *string    `db:"source_text"`
	SourceTextLength      *int       `db:"source_text_length"`
	Status                string     `db:"status"`
	Title                 string     `db:"title"`
	Author                string     `db:"author"`
	Description           string     `db:"description"`
	ContentPreview        *string    `db:"content_preview"`
	AudioUUID             string     `db:"audio_uuid"`
	AudioPath             *string    `db:"audio_path"`
	AudioSizeBytes        *int64     `db:"audio_size_bytes"`
	DurationSeconds       *int       `db:"duration_seconds"`
	Voice                 string     `db:"voice"`
	ErrorMessage          *string    `db:"error_message"`
	ProcessingStartedAt   *time.Time `db:"processing_started_at"`
	ProcessingCompletedAt *time.Time `db:"processing_completed_at"`
	CreatedAt             time.Time  `db:"created_at"`
}
