package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"textcast/internal/db"
	"textcast/internal/feed"
)

// GetRSSFeed serves the user's podcast feed. The feed UUID is the only
// credential podcast apps can carry, so the route is unauthenticated.
func (h *Handlers) GetRSSFeed(w http.ResponseWriter, r *http.Request) {
	uuid := strings.TrimSuffix(mux.Vars(r)["uuid"], ".xml")

	user, err := db.GetUserByRSSUUID(uuid)
	if err != nil {
		http.Error(w, "Feed not found", http.StatusNotFound)
		return
	}

	episodes, err := db.GetCompletedEpisodesByUserID(user.ID)
	if err != nil {
		h.log.WithField("event", "feed_episodes_failed").WithError(err).Error("Episode query failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	rss, err := feed.GenerateRSS(user, episodes, r)
	if err != nil {
		h.log.WithField("event", "feed_render_failed").WithError(err).Error("RSS rendering failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	w.Write([]byte(rss))
}

// ServeAudioFile streams a produced episode by its audio UUID.
func (h *Handlers) ServeAudioFile(w http.ResponseWriter, r *http.Request) {
	uuid := strings.TrimSuffix(mux.Vars(r)["uuid"], ".mp3")

	episode, err := db.GetEpisodeByAudioUUID(uuid)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if episode.Status != db.StatusComplete || episode.AudioPath == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	audio, err := h.store.Read(r.Context(), *episode.AudioPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		h.log.WithField("event", "audio_read_failed").WithError(err).Error("Audio read failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Write(audio)
}
