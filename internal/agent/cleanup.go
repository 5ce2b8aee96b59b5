package agent

import (
	"regexp"
	"strings"
)

var (
	thinkingTagRe = regexp.MustCompile(`(?s)<(thinking|think|reasoning)>.*?</(thinking|think|reasoning)>`)
	finalTagRe    = regexp.MustCompile(`</?(final|answer|response)>`)
)

// CleanResponse strips model artifacts that must never reach the chat:
// leaked thinking blocks, stray wrapper tags and surrounding blank
// lines. Some backends emit these despite the tool-call protocol.
func CleanResponse(content string) string {
	content = thinkingTagRe.ReplaceAllString(content, "")
	content = finalTagRe.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

const trimMarker = "\n... [TRIMMED] ...\n"

// TrimOutput bounds a tool output fed back to the model. The head
// carries most of the signal and the tail usually holds the exit
// status, so both survive: 60% head, 30% tail, marker in between.
func TrimOutput(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	head := max * 6 / 10
	tail := max * 3 / 10
	return s[:head] + trimMarker + s[len(s)-tail:]
}
