package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/sandbotdev/sandbot/internal/channels"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageRunes = 4096

// sendText delivers a reply through the send gate, splitting oversized
// texts into consecutive messages. Markdown rendering is attempted
// first; if Telegram rejects the entity markup the chunk is resent as
// plain text rather than dropped.
func (c *Channel) sendText(ctx context.Context, chatID int64, isGroup bool, text string) {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		chunk := chunk
		_ = c.gate.Do(ctx, chatID, isGroup, func() error {
			msg := tu.Message(tu.ID(chatID), chunk).WithParseMode(telego.ModeMarkdown)
			_, err := c.bot.SendMessage(ctx, msg)
			if err != nil && !isThrottle(err) {
				_, err = c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk))
			}
			return wrapThrottle(err)
		})
	}
}

// sendDocument uploads a workspace file queued by the send_file tool.
func (c *Channel) sendDocument(ctx context.Context, chatID int64, isGroup bool, path string) {
	_ = c.gate.Do(ctx, chatID, isGroup, func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = c.bot.SendDocument(ctx, tu.Document(tu.ID(chatID), tu.File(f)))
		return wrapThrottle(err)
	})
	c.logger.Info("document sent", "chat_id", chatID, "file", filepath.Base(path))
}

// Notify delivers a standalone notice outside a reply flow, such as a
// block reason raised mid-turn. Wired into the agent loop as a
// callback. Group chat ids are negative on Telegram.
func (c *Channel) Notify(chatID int64, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.sendText(ctx, chatID, chatID < 0, text)
}

// react sets a status reaction on the user's message. An empty emoji
// clears the reaction. No-op when reactions are configured off;
// reaction failures are ignored, they are cosmetic.
func (c *Channel) react(ctx context.Context, chatID int64, messageID int, emoji string) {
	if c.config.ReactionLevel == "off" {
		return
	}
	var reactions []telego.ReactionType
	if emoji != "" {
		reactions = []telego.ReactionType{
			&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
		}
	}
	_ = c.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Reaction:  reactions,
	})
}

// splitMessage breaks text into chunks of at most limit runes,
// preferring newline boundaries so code blocks and lists stay intact.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// isThrottle reports whether a Bot API error is a 429.
func isThrottle(err error) bool {
	var apiErr *telegoapi.Error
	return errors.As(err, &apiErr) && apiErr.ErrorCode == 429
}

// wrapThrottle converts a Telegram 429 into the gate's ThrottleError
// so the send gate sleeps for the suggested interval and retries.
func wrapThrottle(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == 429 {
		retryAfter := 3 * time.Second
		if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
		}
		return &channels.ThrottleError{RetryAfter: retryAfter}
	}
	return err
}
