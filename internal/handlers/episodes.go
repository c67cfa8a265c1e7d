package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"textcast/internal/db"
	"textcast/internal/middleware"
	"textcast/internal/models"
	"textcast/pkg/tasks"
)

type createEpisodeRequest struct {
	SourceType string `json:"source_type"`
	URL        string `json:"url"`
	Text       string `json:"text"`
	Title      string `json:"title"`
	Voice      string `json:"voice"`
}

type episodeResponse struct {
	ID              int     `json:"id"`
	SourceType      string  `json:"source_type"`
	Status          string  `json:"status"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	Description     string  `json:"description"`
	ContentPreview  *string `json:"content_preview,omitempty"`
	AudioURL        string  `json:"audio_url,omitempty"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func toEpisodeResponse(e *models.Episode) episodeResponse {
	resp := episodeResponse{
		ID:              e.ID,
		SourceType:      e.SourceType,
		Status:          e.Status,
		Title:           e.Title,
		Author:          e.Author,
		Description:     e.Description,
		ContentPreview:  e.ContentPreview,
		DurationSeconds: e.DurationSeconds,
		ErrorMessage:    e.ErrorMessage,
		CreatedAt:       e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if e.Status == db.StatusComplete {
		resp.AudioURL = "/audio/" + e.AudioUUID + ".mp3"
	}
	return resp
}

// PostEpisode accepts a new url, paste, extension or file submission.
// Validation here is the cheap fast-fail layer; the pipeline re-checks
// limits before spending on provider calls.
func (h *Handlers) PostEpisode(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req createEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var sourceURL, sourceText *string
	switch req.SourceType {
	case db.SourceTypeURL:
		target := strings.TrimSpace(req.URL)
		if !validSubmissionURL(target) {
			writeError(w, http.StatusUnprocessableEntity, "Invalid URL")
			return
		}
		sourceURL = &target
	case db.SourceTypePaste, db.SourceTypeExtension, db.SourceTypeFile:
		text := req.Text
		length := len([]rune(strings.TrimSpace(text)))
		if length < h.limits.MinContentLength {
			writeError(w, http.StatusUnprocessableEntity, "Content too short")
			return
		}
		if limit := h.limits.CharacterLimitFor(user.Tier); limit > 0 && len([]rune(text)) > limit {
			writeError(w, http.StatusUnprocessableEntity, "Content too long to process")
			return
		}
		sourceText = &text
	default:
		writeError(w, http.StatusUnprocessableEntity, "Unknown source type")
		return
	}

	voice := req.Voice
	if voice == "" {
		voice = user.Voice
	}
	if voice == "" {
		voice = h.defaultVoice
	}

	episode, err := db.CreateEpisode(user.ID, req.SourceType, sourceURL, sourceText, voice)
	if err != nil {
		h.log.WithField("event", "episode_create_failed").WithError(err).Error("Episode insert failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if req.SourceType == db.SourceTypeFile && req.Title != "" {
		// File uploads carry their own title; enrichment is skipped for them.
		if err := db.SetEpisodeTitle(episode.ID, req.Title); err != nil {
			h.log.WithField("event", "episode_title_failed").WithError(err).Warn("Could not set file title")
		} else {
			episode.Title = req.Title
		}
	}

	task, err := tasks.NewProcessEpisodeTask(episode.ID)
	if err != nil {
		h.log.WithField("event", "task_build_failed").WithError(err).Error("Task payload failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if _, err := h.asynqClient.Enqueue(task); err != nil {
		h.log.WithField("event", "task_enqueue_failed").WithError(err).Error("Enqueue failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.log.WithFields(logrus.Fields{
		"event":       "episode_created",
		"episode_id":  episode.ID,
		"user_id":     user.ID,
		"source_type": req.SourceType,
	}).Info("Episode queued for processing")

	writeJSON(w, http.StatusAccepted, toEpisodeResponse(&episode))
}

func (h *Handlers) GetEpisodes(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	episodes, err := db.GetEpisodesByUserID(user.ID)
	if err != nil {
		h.log.WithField("event", "episode_list_failed").WithError(err).Error("Episode list failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]episodeResponse, 0, len(episodes))
	for i := range episodes {
		out = append(out, toEpisodeResponse(&episodes[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid episode id")
		return
	}

	episode, err := db.GetEpisodeByID(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Episode not found")
			return
		}
		h.log.WithField("event", "episode_get_failed").WithError(err).Error("Episode lookup failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if episode.UserID != user.ID {
		writeError(w, http.StatusNotFound, "Episode not found")
		return
	}

	writeJSON(w, http.StatusOK, toEpisodeResponse(&episode))
}

func validSubmissionURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
