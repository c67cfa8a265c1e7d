package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TypeProcessEpisode = "episode:process"
	TypeRefitEstimate  = "estimate:refit"
)

type ProcessEpisodeTaskPayload struct {
	EpisodeID int
}

func NewProcessEpisodeTask(episodeID int) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessEpisodeTaskPayload{EpisodeID: episodeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessEpisode, payload), nil
}

func NewRefitEstimateTask() (*asynq.Task, error) {
	return asynq.NewTask(TypeRefitEstimate, nil), nil
}
