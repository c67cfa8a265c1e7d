package handlers

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"textcast/internal/db"
	"textcast/pkg/tasks"
)

type inboundEmailRequest struct {
	From     string `json:"from"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body"`
}

// PostInboundEmail receives newsletter forwards from the inbound mail
// provider. The sender address identifies the account; the plain-text part
// is preferred and the HTML part is stripped to text as a fallback.
func (h *Handlers) PostInboundEmail(w http.ResponseWriter, r *http.Request) {
	if h.inboundEmailToken == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Token")), []byte(h.inboundEmailToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "Invalid webhook token")
		return
	}

	var req inboundEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	user, err := db.GetUserByEmail(normalizeAddress(req.From))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Unknown senders are acknowledged so the provider stops
			// retrying; nothing is created.
			h.log.WithField("event", "email_unknown_sender").Info("Inbound email from unknown address")
			w.WriteHeader(http.StatusOK)
			return
		}
		h.log.WithField("event", "email_lookup_failed").WithError(err).Error("Sender lookup failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	body := strings.TrimSpace(req.TextBody)
	if body == "" {
		body = htmlToText(req.HTMLBody)
	}
	if len([]rune(body)) < h.limits.MinContentLength {
		writeError(w, http.StatusUnprocessableEntity, "Content too short")
		return
	}
	if limit := h.limits.CharacterLimitFor(user.Tier); limit > 0 && len([]rune(body)) > limit {
		writeError(w, http.StatusUnprocessableEntity, "Content too long to process")
		return
	}

	if req.Subject != "" {
		body = req.Subject + "\n\n" + body
	}

	episode, err := db.CreateEpisode(user.ID, db.SourceTypeEmail, nil, &body, user.Voice)
	if err != nil {
		h.log.WithField("event", "episode_create_failed").WithError(err).Error("Episode insert failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	task, err := tasks.NewProcessEpisodeTask(episode.ID)
	if err == nil {
		_, err = h.asynqClient.Enqueue(task)
	}
	if err != nil {
		h.log.WithField("event", "task_enqueue_failed").WithError(err).Error("Enqueue failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.log.WithFields(logrus.Fields{
		"event":      "email_episode_created",
		"episode_id": episode.ID,
		"user_id":    user.ID,
	}).Info("Inbound email queued for processing")

	writeJSON(w, http.StatusAccepted, toEpisodeResponse(&episode))
}

// normalizeAddress reduces "Name <addr@host>" to the bare lowercase address.
func normalizeAddress(from string) string {
	addr := from
	if start := strings.LastIndex(from, "<"); start != -1 {
		if end := strings.LastIndex(from, ">"); end > start {
			addr = from[start+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
