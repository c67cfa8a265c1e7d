package estimate

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"textcast/internal/db"
	"textcast/internal/models"
)

const (
	// minimumEpisodes is the fewest qualifying data points a refit needs.
	minimumEpisodes = 2
	// outlierThreshold filters episodes whose processing time deviates
	// more than this many standard deviations from the mean, which keeps
	// stuck or retried episodes out of the regression.
	outlierThreshold = 3.0
)

type point struct {
	x float64 // source text length in characters
	y float64 // processing seconds
}

// Refit rebuilds the ETA model from historical processing data and appends a
// new estimate row. Returns nil (no error) when there is not enough data to
// fit.
func Refit(log *logrus.Entry) (*models.ProcessingEstimate, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	samples, err := db.GetProcessingSamples()
	if err != nil {
		return nil, err
	}

	points := make([]point, 0, len(samples))
	for _, s := range samples {
		if s.ProcessingSeconds > 0 {
			points = append(points, point{x: float64(s.SourceTextLength), y: s.ProcessingSeconds})
		}
	}

	filtered := filterOutliers(points)
	if len(filtered) < minimumEpisodes {
		log.WithFields(logrus.Fields{
			"event":   "estimate_refit_skipped",
			"samples": len(filtered),
		}).Info("not enough data points to refit")
		return nil, nil
	}

	slope, intercept := fitOLS(filtered)

	// The marginal cost is clamped to at least 1 µs/char and the overhead
	// to at least 0; a fitted model must never predict a non-positive
	// per-character cost.
	microsecondsPerCharacter := int(math.Round(slope * 1_000_000))
	if microsecondsPerCharacter < 1 {
		microsecondsPerCharacter = 1
	}
	baseSeconds := int(math.Round(intercept))
	if baseSeconds < 0 {
		baseSeconds = 0
	}

	est, err := db.InsertProcessingEstimate(baseSeconds, microsecondsPerCharacter, len(filtered))
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"event":         "estimate_refit_completed",
		"base_seconds":  est.BaseSeconds,
		"us_per_char":   est.MicrosecondsPerCharacter,
		"episode_count": est.EpisodeCount,
	}).Info("processing estimate refitted")
	return &est, nil
}

// Predict returns the expected processing duration for an episode of the
// given character length under the supplied model snapshot.
func Predict(est models.ProcessingEstimate, characters int) time.Duration {
	seconds := float64(est.BaseSeconds) +
		float64(est.MicrosecondsPerCharacter)*float64(characters)/1_000_000
	return time.Duration(seconds * float64(time.Second))
}

// filterOutliers drops points whose processing time is more than
// outlierThreshold standard deviations from the sample mean.
func filterOutliers(points []point) []point {
	if len(points) == 0 {
		return points
	}

	mean := 0.0
	for _, p := range points {
		mean += p.y
	}
	mean /= float64(len(points))

	variance := 0.0
	for _, p := range points {
		variance += (p.y - mean) * (p.y - mean)
	}
	variance /= float64(len(points))
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return points
	}

	kept := make([]point, 0, len(points))
	for _, p := range points {
		if math.Abs(p.y-mean) <= outlierThreshold*stdDev {
			kept = append(kept, p)
		}
	}
	return kept
}

// fitOLS computes the ordinary least squares line y = intercept + slope*x.
func fitOLS(points []point) (slope, intercept float64) {
	var meanX, meanY float64
	for _, p := range points {
		meanX += p.x
		meanY += p.y
	}
	meanX /= float64(len(points))
	meanY /= float64(len(points))

	var numerator, denominator float64
	for _, p := range points {
		numerator += (p.x - meanX) * (p.y - meanY)
		denominator += (p.x - meanX) * (p.x - meanX)
	}

	if denominator != 0 {
		slope = numerator / denominator
	}
	intercept = meanY - slope*meanX
	return slope, intercept
}
