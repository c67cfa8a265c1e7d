package markdown

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	blockquoteRe = regexp.MustCompile(`(?m)^>\s?`)
	listMarkerRe = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
	emphasisRe   = regexp.MustCompile(`(\*{1,3}|_{1,3})(\S(?:.*?\S)?)(\*{1,3}|_{1,3})`)
	hrRe         = regexp.MustCompile(`(?m)^(?:-{3,}|\*{3,}|_{3,})\s*$`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
)

// Strip converts markdown to plain text suitable for narration. File-sourced
// episodes go through this instead of LLM enrichment.
func Strip(text string) string {
	out := codeFenceRe.ReplaceAllString(text, "")
	out = imageRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = inlineCodeRe.ReplaceAllString(out, "$1")
	out = headingRe.ReplaceAllString(out, "")
	out = blockquoteRe.ReplaceAllString(out, "")
	out = listMarkerRe.ReplaceAllString(out, "")
	out = hrRe.ReplaceAllString(out, "")
	out = emphasisRe.ReplaceAllString(out, "$2")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
