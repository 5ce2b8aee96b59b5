package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/sandbotdev/sandbot/internal/channels"
)

func TestSplitMessageShort(t *testing.T) {
	chunks := splitMessage("hello", maxMessageRunes)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 20)
	chunks := splitMessage(text, 50)
	for i, chunk := range chunks {
		if len([]rune(chunk)) > 50 {
			t.Errorf("chunk %d exceeds limit: %d runes", i, len([]rune(chunk)))
		}
		if i < len(chunks)-1 && strings.Contains(chunk, "line one\nline") && !strings.HasSuffix(chunk, "line one") {
			continue
		}
	}
	joined := strings.Join(chunks, "\n")
	if !strings.Contains(joined, "line one") {
		t.Error("content lost")
	}
}

func TestSplitMessageNoNewlines(t *testing.T) {
	text := strings.Repeat("x", 9000)
	chunks := splitMessage(text, maxMessageRunes)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	total := 0
	for _, chunk := range chunks {
		if len([]rune(chunk)) > maxMessageRunes {
			t.Errorf("chunk too long: %d", len([]rune(chunk)))
		}
		total += len(chunk)
	}
	if total != 9000 {
		t.Errorf("total runes = %d", total)
	}
}

func TestSplitMessageUnicodeBoundary(t *testing.T) {
	text := strings.Repeat("я", 5000)
	chunks := splitMessage(text, maxMessageRunes)
	for i, chunk := range chunks {
		if strings.Contains(chunk, "�") {
			t.Errorf("chunk %d split inside a rune", i)
		}
	}
}

func TestWrapThrottle(t *testing.T) {
	err := wrapThrottle(&telegoapi.Error{
		ErrorCode:  429,
		Parameters: &telegoapi.ResponseParameters{RetryAfter: 7},
	})
	throttle, ok := err.(*channels.ThrottleError)
	if !ok {
		t.Fatalf("err = %T", err)
	}
	if throttle.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %s", throttle.RetryAfter)
	}

	plain := wrapThrottle(&telegoapi.Error{ErrorCode: 400})
	if _, ok := plain.(*channels.ThrottleError); ok {
		t.Error("400 wrapped as throttle")
	}
	if wrapThrottle(nil) != nil {
		t.Error("nil error wrapped")
	}
}

func TestStripMention(t *testing.T) {
	if got := stripMention("@sandbot do the thing", "sandbot"); got != "do the thing" {
		t.Errorf("got %q", got)
	}
	if got := stripMention("no mention here", "sandbot"); got != "no mention here" {
		t.Errorf("got %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	if got := displayName(&telego.User{Username: "ann"}); got != "@ann" {
		t.Errorf("got %q", got)
	}
	if got := displayName(&telego.User{FirstName: "Ann", LastName: "Lee"}); got != "Ann Lee" {
		t.Errorf("got %q", got)
	}
}
