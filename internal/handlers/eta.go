package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"textcast/internal/db"
	"textcast/internal/estimate"
)

type etaResponse struct {
	ETASeconds   *int `json:"eta_seconds"`
	EpisodeCount int  `json:"episode_count"`
}

// GetETA predicts how long processing will take for a submission of the
// given character count, using the most recent fitted model. Before enough
// episodes have completed there is no model and the prediction is null.
func (h *Handlers) GetETA(w http.ResponseWriter, r *http.Request) {
	characters, err := strconv.Atoi(r.URL.Query().Get("characters"))
	if err != nil || characters < 0 {
		writeError(w, http.StatusBadRequest, "characters must be a non-negative integer")
		return
	}

	est, err := db.GetLatestProcessingEstimate()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusOK, etaResponse{})
			return
		}
		h.log.WithField("event", "estimate_lookup_failed").WithError(err).Error("Estimate lookup failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	seconds := int(estimate.Predict(est, characters).Seconds())
	writeJSON(w, http.StatusOK, etaResponse{
		ETASeconds:   &seconds,
		EpisodeCount: est.EpisodeCount,
	})
}
