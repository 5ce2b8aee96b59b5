package telegram

import (
	"context"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/sandbotdev/sandbot/internal/access"
	"github.com/sandbotdev/sandbot/internal/agent"
	"github.com/sandbotdev/sandbot/internal/bus"
	"github.com/sandbotdev/sandbot/internal/channels"
	"github.com/sandbotdev/sandbot/internal/metrics"
	"github.com/sandbotdev/sandbot/internal/security"
)

const (
	injectionRefusal = "🚫 I can't process that message."
	busyReply        = "⏳ I'm at capacity right now. Please try again in a minute."
	turnFailedReply  = "⚠️ Something went wrong while handling that. Please try again."
)

// handleMessage processes one inbound Telegram message end to end:
// access check, injection check, commands, admission, agent turn.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	user := message.From
	if user == nil || user.IsBot {
		return
	}
	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if text == "" {
		return
	}

	userID := user.ID
	chatID := message.Chat.ID
	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	c.logger.Debug("message received",
		"user_id", userID, "chat_id", chatID, "group", isGroup,
		"preview", channels.Truncate(text, 60))

	// Groups only answer when addressed, unless the operator turned
	// the mention gate off.
	if isGroup && c.config.GroupMention && !c.mentioned(message) {
		return
	}
	if isGroup {
		text = stripMention(text, c.bot.Username())
		if strings.TrimSpace(text) == "" {
			return
		}
	}

	accessKind := access.ChatPrivate
	chatKind := security.ChatPrivate
	if isGroup {
		accessKind = access.ChatGroup
		chatKind = security.ChatGroup
	}

	result := c.access.Check(userID, accessKind)
	if result.Effect != access.Permit {
		metrics.MessagesInbound.WithLabelValues("denied").Inc()
		c.react(ctx, chatID, message.MessageID, "🚫")
		if result.Effect == access.DenyMessage {
			c.sendText(ctx, chatID, isGroup, result.Reason)
		}
		return
	}

	if c.injection.Detect(text, userID) {
		metrics.MessagesInbound.WithLabelValues("injection").Inc()
		c.react(ctx, chatID, message.MessageID, "🤨")
		c.sendText(ctx, chatID, isGroup, injectionRefusal)
		c.publishSecurity(userID, "injection", channels.Truncate(text, 100))
		return
	}

	if strings.HasPrefix(text, "/") {
		if c.handleCommand(ctx, message, chatID, userID, isGroup, text, result.IsAdmin) {
			return
		}
	}

	release, err := c.admission.Acquire(ctx, userID)
	if err == channels.ErrBusy {
		metrics.MessagesInbound.WithLabelValues("busy").Inc()
		c.react(ctx, chatID, message.MessageID, "⏳")
		c.sendText(ctx, chatID, isGroup, busyReply)
		return
	}
	if err != nil {
		return
	}
	defer release()

	if c.sessions.Locked(userID) {
		metrics.MessagesInbound.WithLabelValues("locked").Inc()
	} else {
		metrics.MessagesInbound.WithLabelValues("processed").Inc()
	}

	c.react(ctx, chatID, message.MessageID, "👀")
	_ = c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))

	turn, err := c.agent.Run(ctx, agent.Request{
		UserID:      userID,
		ChatID:      chatID,
		ChatKind:    chatKind,
		DisplayName: displayName(user),
		Message:     text,
	})
	if err != nil {
		c.react(ctx, chatID, message.MessageID, "")
		c.sendText(ctx, chatID, isGroup, turnFailedReply)
		return
	}

	c.react(ctx, chatID, message.MessageID, "✅")
	if turn.Content != "" {
		c.sendText(ctx, chatID, isGroup, turn.Content)
	}
	for _, path := range turn.Files {
		c.sendDocument(ctx, chatID, isGroup, path)
	}
}

// mentioned reports whether the bot was addressed in a group message:
// an explicit @mention, a command suffixed with the bot name, or a
// reply to one of the bot's messages.
func (c *Channel) mentioned(msg *telego.Message) bool {
	botUsername := c.bot.Username()
	if botUsername == "" {
		return false
	}
	needle := "@" + strings.ToLower(botUsername)

	for _, pair := range []string{msg.Text, msg.Caption} {
		if pair != "" && strings.Contains(strings.ToLower(pair), needle) {
			return true
		}
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		if msg.ReplyToMessage.From.Username == botUsername {
			return true
		}
	}
	return false
}

func stripMention(text, botUsername string) string {
	if botUsername == "" {
		return text
	}
	out := strings.ReplaceAll(text, "@"+botUsername, "")
	return strings.TrimSpace(out)
}

func displayName(user *telego.User) string {
	if user.Username != "" {
		return "@" + user.Username
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

func (c *Channel) publishSecurity(userID int64, kind, detail string) {
	if c.events == nil {
		return
	}
	c.events.Broadcast(bus.Now(bus.EventSecurity, bus.SecurityPayload{
		UserID: userID,
		Kind:   kind,
		Detail: detail,
	}))
}
