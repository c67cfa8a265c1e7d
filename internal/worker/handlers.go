package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"textcast/internal/estimate"
	"textcast/pkg/tasks"
)

// EpisodeProcessor runs the processing pipeline for one episode. It's
// implemented by pipeline.Pipeline and can be stubbed for testing.
type EpisodeProcessor interface {
	Process(ctx context.Context, episodeID int) error
}

// TaskHandler wires queue tasks to the pipeline and the estimator.
type TaskHandler struct {
	pipeline EpisodeProcessor
	log      *logrus.Logger
}

func NewTaskHandler(p EpisodeProcessor, log *logrus.Logger) *TaskHandler {
	return &TaskHandler{pipeline: p, log: log}
}

func (h *TaskHandler) HandleProcessEpisodeTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.ProcessEpisodeTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	h.log.WithFields(logrus.Fields{
		"event":      "task_started",
		"task_type":  tasks.TypeProcessEpisode,
		"episode_id": p.EpisodeID,
	}).Info("Processing episode")

	return h.pipeline.Process(ctx, p.EpisodeID)
}

func (h *TaskHandler) HandleRefitEstimateTask(ctx context.Context, t *asynq.Task) error {
	log := h.log.WithFields(logrus.Fields{
		"component": "estimator",
		"task_type": tasks.TypeRefitEstimate,
	})

	est, err := estimate.Refit(log)
	if err != nil {
		return fmt.Errorf("failed to refit processing estimate: %w", err)
	}
	if est == nil {
		log.WithField("event", "refit_skipped").Info("Not enough data points for a new estimate")
	}
	return nil
}
