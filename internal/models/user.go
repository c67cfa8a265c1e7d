package models

import "time"

// User owns episodes and a single podcast feed.
type User struct {
	ID             int64     `db:"id"`
	Email          string    `db:"email"`
	APIToken       string    `db:"api_token"`
	RSSUUID        string    `db:"rss_uuid"`
	Tier           string    `db:"tier"`
	Voice          string    `db:"voice"`
	TelegramChatID *int64    `db:"telegram_chat_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ProcessingEstimate is one snapshot of the fitted ETA model. Rows are
// append-only; only the newest row is used for predictions.
type ProcessingEstimate struct {
	ID                       int       `db:"id"`
	BaseSeconds              int       `db:"base_seconds"`
	MicrosecondsPerCharacter int       `db:"microseconds_per_character"`
	EpisodeCount             int       `db:"episode_count"`
	CreatedAt                time.Time `db:"created_at"`
}

// LLMUsage records provider token accounting for one enrichment call.
type LLMUsage struct {
	ID           int       `db:"id"`
	EpisodeID    int       `db:"episode_id"`
	Model        string    `db:"model"`
	InputTokens  int       `db:"input_tokens"`
	OutputTokens int       `db:"output_tokens"`
	CreatedAt    time.Time `db:"created_at"`
}
