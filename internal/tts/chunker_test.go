package tts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkTexts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	text := "Short and sweet."
	chunks := Split(text, 850)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Text)
}

func TestSplitRespectsByteLimit(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100))
	chunks := Split(text, 200)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.ByteLen(), 200, "chunk %d exceeds limit", c.Index)
	}
}

func TestSplitIndexesAreSequential(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("One sentence here. ", 100))
	chunks := Split(text, 100)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSplitReconstructsOriginalText(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("Pack my box with five dozen liquor jugs. ", 80))
	chunks := Split(text, 300)

	assert.Equal(t, text, strings.Join(chunkTexts(chunks), " "))
}

func TestSplitNeverBreaksWords(t *testing.T) {
	words := strings.Fields(strings.TrimSpace(strings.Repeat("correct horse battery staple. ", 60)))
	text := strings.Join(words, " ")
	chunks := Split(text, 120)

	vocabulary := map[string]bool{}
	for _, w := range words {
		vocabulary[w] = true
	}
	for _, c := range chunks {
		for _, w := range strings.Fields(c.Text) {
			assert.True(t, vocabulary[w], "word %q was split across chunks", w)
		}
	}
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("A tidy little sentence. ", 40))
	chunks := Split(text, 200)

	// Every chunk except possibly the last should end at a sentence
	// boundary, since sentences fit comfortably under the limit.
	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c.Text, "."), "chunk %d ends mid-sentence: %q", c.Index, c.Text)
	}
}

func TestSplitFallsBackToClauses(t *testing.T) {
	// One giant sentence, only clause punctuation available.
	clause := "a clause that goes on and on without a full stop,"
	text := strings.TrimSpace(strings.Repeat(clause+" ", 30))
	chunks := Split(text, 200)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.ByteLen(), 200)
	}
	assert.Equal(t, text, strings.Join(chunkTexts(chunks), " "))
}

func TestSplitFallsBackToWords(t *testing.T) {
	// No punctuation at all.
	text := strings.TrimSpace(strings.Repeat("word ", 200))
	chunks := Split(text, 100)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.ByteLen(), 100)
	}
	assert.Equal(t, text, strings.Join(chunkTexts(chunks), " "))
}
