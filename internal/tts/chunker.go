package tts

import (
	"strings"
	"unicode"
)

// Chunk is an ordered, byte-bounded slice of the text to synthesize. Index
// is the reassembly key.
type Chunk struct {
	Index int
	Text  string
}

// ByteLen returns the chunk size as counted against the provider limit.
func (c Chunk) ByteLen() int {
	return len(c.Text)
}

// Split breaks text into chunks of at most maxBytes bytes. Boundaries prefer
// sentence-ending punctuation, then clause punctuation, then word breaks; a
// word is never split. A single word longer than maxBytes becomes its own
// chunk, the provider rejects it and nothing better is possible.
func Split(text string, maxBytes int) []Chunk {
	if len(text) <= maxBytes {
		return []Chunk{{Index: 0, Text: text}}
	}

	var parts []string
	current := ""

	for _, sentence := range splitAfter(text, isSentenceEnd) {
		if len(sentence) > maxBytes {
			current = appendLongSentence(sentence, maxBytes, &parts, current)
			continue
		}
		current = appendPiece(sentence, current, maxBytes, &parts)
	}
	if trimmed := strings.TrimSpace(current); trimmed != "" {
		parts = append(parts, trimmed)
	}

	chunks := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, Chunk{Index: i, Text: p})
	}
	return chunks
}

// appendLongSentence handles a sentence that alone exceeds the limit by
// splitting it at clause punctuation, and at word boundaries when a clause
// still does not fit.
func appendLongSentence(sentence string, maxBytes int, parts *[]string, current string) string {
	for _, clause := range splitAfter(sentence, isClauseEnd) {
		if len(clause) > maxBytes {
			for _, piece := range splitAtWords(clause, maxBytes) {
				current = appendPiece(piece, current, maxBytes, parts)
			}
			continue
		}
		current = appendPiece(clause, current, maxBytes, parts)
	}
	return current
}

// appendPiece adds piece to the chunk under construction, flushing the
// current chunk first when the combination would exceed the limit.
func appendPiece(piece, current string, maxBytes int, parts *[]string) string {
	candidate := piece
	if current != "" {
		candidate = current + " " + piece
	}
	if len(candidate) > maxBytes {
		if trimmed := strings.TrimSpace(current); trimmed != "" {
			*parts = append(*parts, trimmed)
		}
		return piece
	}
	return candidate
}

func splitAtWords(text string, maxBytes int) []string {
	var out []string
	current := ""
	for _, word := range strings.Fields(text) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if len(candidate) > maxBytes {
			if current != "" {
				out = append(out, current)
			}
			current = word
			continue
		}
		current = candidate
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClauseEnd(r rune) bool {
	return r == ',' || r == ';' || r == ':'
}

// splitAfter splits text after any boundary rune that is followed by
// whitespace, dropping the whitespace. The concatenation of the returned
// pieces joined with single spaces reproduces the whitespace-normalized
// input.
func splitAfter(text string, isBoundary func(rune) bool) []string {
	var parts []string
	var b strings.Builder
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if isBoundary(runes[i]) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			parts = append(parts, b.String())
			b.Reset()
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}
