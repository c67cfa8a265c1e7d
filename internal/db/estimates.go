package db

import (
	"textcast/internal/models"
)

// InsertProcessingEstimate appends a new model snapshot. Estimates are never
// updated in place; the newest row wins.
func InsertProcessingEstimate(baseSeconds, microsecondsPerCharacter, episodeCount int) (models.ProcessingEstimate, error) {
	estimate := models.ProcessingEstimate{}
	err := DB.Get(&estimate, `
		INSERT INTO processing_estimates (base_seconds, microseconds_per_character, episode_count)
		VALUES ($1, $2, $3) RETURNING *`,
		baseSeconds, microsecondsPerCharacter, episodeCount)
	return estimate, err
}

// GetLatestProcessingEstimate returns the most recently created estimate.
func GetLatestProcessingEstimate() (models.ProcessingEstimate, error) {
	estimate := models.ProcessingEstimate{}
	err := DB.Get(&estimate, `
		SELECT * FROM processing_estimates
		ORDER BY created_at DESC, id DESC LIMIT 1`)
	return estimate, err
}

// RecordLLMUsage persists provider token accounting for one enrichment call.
func RecordLLMUsage(episodeID int, model string, inputTokens, outputTokens int) error {
	_, err := DB.Exec(`
		INSERT INTO llm_usages (episode_id, model, input_tokens, output_tokens)
		VALUES ($1, $2, $3, $4)`,
		episodeID, model, inputTokens, outputTokens)
	return err
}
