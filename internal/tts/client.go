package tts

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Client wraps a Provider with the per-chunk retry policy: exponential
// backoff on rate limits, a short fixed delay on timeouts, immediate
// propagation of everything else.
type Client struct {
	provider   Provider
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	log        *logrus.Entry
}

func NewClient(provider Provider, maxRetries int, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		provider:   provider,
		maxRetries: maxRetries,
		sleep:      sleepContext,
		log:        log,
	}
}

// SynthesizeWithRetry issues one synthesis call, retrying rate-limit and
// timeout failures up to the retry budget. Content-filter rejections are
// never retried; the caller decides whether they are fatal.
func (c *Client) SynthesizeWithRetry(ctx context.Context, text, voice string) ([]byte, error) {
	retries := 0
	for {
		audio, err := c.provider.Synthesize(ctx, text, voice)
		if err == nil {
			return audio, nil
		}

		switch KindOf(err) {
		case KindRateLimited:
			if retries >= c.maxRetries {
				return nil, err
			}
			retries++
			wait := time.Duration(1<<uint(retries)) * time.Second
			c.log.WithFields(logrus.Fields{
				"event": "tts_rate_limited",
				"wait":  wait.String(),
				"retry": retries,
				"max":   c.maxRetries,
			}).Warn("rate limit hit, backing off")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		case KindTimeout:
			if retries >= c.maxRetries {
				return nil, err
			}
			retries++
			c.log.WithFields(logrus.Fields{
				"event": "tts_timeout",
				"retry": retries,
				"max":   c.maxRetries,
			}).Warn("timeout, retrying")
			if err := c.sleep(ctx, time.Second); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
