package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"textcast/internal/storage"
	"textcast/pkg/tasks"
)

// Limits are the submission-time content bounds, checked before an episode
// is created so obviously bad input never reaches the queue.
type Limits struct {
	MinContentLength  int
	CharacterLimitFor func(tier string) int
}

type Handlers struct {
	asynqClient       tasks.TaskEnqueuer
	store             storage.Storage
	limits            Limits
	defaultVoice      string
	inboundEmailToken string
	log               *logrus.Logger
}

func New(asynqClient tasks.TaskEnqueuer, store storage.Storage, limits Limits, defaultVoice, inboundEmailToken string, log *logrus.Logger) *Handlers {
	return &Handlers{
		asynqClient:       asynqClient,
		store:             store,
		limits:            limits,
		defaultVoice:      defaultVoice,
		inboundEmailToken: inboundEmailToken,
		log:               log,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
