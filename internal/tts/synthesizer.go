package tts

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrAllChunksSkipped means the content filter rejected every chunk, leaving
// nothing to assemble.
var ErrAllChunksSkipped = errors.New("tts provider: all chunks rejected by content filter")

// Outcome is the per-chunk synthesis result. Exactly one of Audio, Skipped
// or Err is set.
type Outcome struct {
	Index   int
	Audio   []byte
	Skipped bool
	Err     error
}

// Synthesizer converts text to audio, transparently chunking long inputs and
// synthesizing chunks concurrently under a bounded worker pool.
type Synthesizer struct {
	client    *Client
	byteLimit int
	workers   int
	log       *logrus.Entry
}

func NewSynthesizer(client *Client, byteLimit, workers int, log *logrus.Entry) *Synthesizer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Synthesizer{
		client:    client,
		byteLimit: byteLimit,
		workers:   workers,
		log:       log,
	}
}

// Synthesize returns the full audio for text. It blocks until every chunk
// has resolved. Content-filtered chunks are skipped with a warning; any
// other chunk failure, after its retry budget, fails the whole call.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	chunks := Split(text, s.byteLimit)

	if len(chunks) == 1 {
		audio, err := s.client.SynthesizeWithRetry(ctx, chunks[0].Text, voice)
		if err != nil {
			if KindOf(err) == KindContentFiltered {
				s.log.WithField("event", "tts_chunk_skipped").Warn("content filter rejected the only chunk")
				return nil, ErrAllChunksSkipped
			}
			return nil, err
		}
		return audio, nil
	}

	s.log.WithFields(logrus.Fields{
		"event":   "tts_chunked_synthesis_started",
		"chunks":  len(chunks),
		"workers": s.workers,
	}).Info("text too long for one call, splitting")

	outcomes := s.synthesizeConcurrently(ctx, chunks, voice)

	// Reassembly is strictly index-ordered regardless of which worker
	// finished first.
	var buf bytes.Buffer
	skipped := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		if outcome.Skipped {
			skipped++
			continue
		}
		buf.Write(outcome.Audio)
	}

	if skipped == len(chunks) {
		return nil, ErrAllChunksSkipped
	}
	if skipped > 0 {
		s.log.WithFields(logrus.Fields{
			"event":   "tts_chunks_skipped",
			"skipped": skipped,
			"total":   len(chunks),
		}).Warn("some chunks were rejected by the content filter")
	}

	s.log.WithFields(logrus.Fields{
		"event":       "tts_chunked_synthesis_completed",
		"audio_bytes": buf.Len(),
	}).Info("chunked synthesis done")
	return buf.Bytes(), nil
}

// synthesizeConcurrently runs the fixed-size worker pool. The pool lives for
// one call only; excess chunks queue for a free worker, which is the sole
// backpressure mechanism against the provider quota.
func (s *Synthesizer) synthesizeConcurrently(ctx context.Context, chunks []Chunk, voice string) []Outcome {
	jobs := make(chan Chunk)
	outcomes := make([]Outcome, len(chunks))

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				outcomes[chunk.Index] = s.synthesizeChunk(ctx, chunk, len(chunks), voice)
			}
		}()
	}

	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (s *Synthesizer) synthesizeChunk(ctx context.Context, chunk Chunk, total int, voice string) Outcome {
	s.log.WithFields(logrus.Fields{
		"event": "tts_chunk_started",
		"chunk": chunk.Index + 1,
		"total": total,
		"bytes": chunk.ByteLen(),
	}).Debug("synthesizing chunk")

	audio, err := s.client.SynthesizeWithRetry(ctx, chunk.Text, voice)
	if err != nil {
		if KindOf(err) == KindContentFiltered {
			s.log.WithFields(logrus.Fields{
				"event": "tts_chunk_skipped",
				"chunk": chunk.Index + 1,
				"total": total,
			}).Warn("chunk rejected by content filter, skipping")
			return Outcome{Index: chunk.Index, Skipped: true}
		}
		s.log.WithFields(logrus.Fields{
			"event": "tts_chunk_failed",
			"chunk": chunk.Index + 1,
			"total": total,
		}).WithError(err).Error("chunk synthesis failed")
		return Outcome{Index: chunk.Index, Err: err}
	}

	return Outcome{Index: chunk.Index, Audio: audio}
}
