package feed

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/eduncan911/podcast"

	"textcast/internal/models"
)

func getBaseURL(r *http.Request) string {
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		return baseURL
	}

	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "https"
		if r.Header.Get("X-Forwarded-Proto") != "" {
			scheme = r.Header.Get("X-Forwarded-Proto")
		}
	}

	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// GenerateRSS renders the user's feed of completed episodes.
func GenerateRSS(user *models.User, episodes []models.Episode, r *http.Request) (string, error) {
	baseURL := getBaseURL(r)

	p := podcast.New(
		fmt.Sprintf("%s's Articles", user.Email),
		fmt.Sprintf("%s/feeds/%s.xml", baseURL, user.RSSUUID),
		"Narrated audio episodes generated from saved articles, pastes and newsletters.",
		&time.Time{}, &time.Time{},
	)

	for i := range episodes {
		episode := &episodes[i]
		item := podcast.Item{
			Title:       episode.Title,
			Description: itemDescription(episode),
			PubDate:     episode.ProcessingCompletedAt,
		}
		item.AddEnclosure(
			fmt.Sprintf("%s/audio/%s.mp3", baseURL, episode.AudioUUID),
			podcast.MP3,
			enclosureSize(episode),
		)
		if episode.DurationSeconds != nil {
			item.AddDuration(int64(*episode.DurationSeconds))
		}
		if _, err := p.AddItem(item); err != nil {
			return "", err
		}
	}

	return p.String(), nil
}

func itemDescription(episode *models.Episode) string {
	if episode.Description != "" {
		return episode.Description
	}
	if episode.ContentPreview != nil && *episode.ContentPreview != "" {
		return *episode.ContentPreview
	}
	return episode.Title
}

func enclosureSize(episode *models.Episode) int64 {
	if episode.AudioSizeBytes != nil {
		return *episode.AudioSizeBytes
	}
	return 0
}
