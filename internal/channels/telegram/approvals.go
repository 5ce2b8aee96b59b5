package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/sandbotdev/sandbot/internal/approval"
	"github.com/sandbotdev/sandbot/internal/bus"
	"github.com/sandbotdev/sandbot/internal/metrics"
)

// Callback data prefixes. Telegram caps callback data at 64 bytes, so
// only the pending id travels; everything else is looked up.
const (
	cbApprove  = "ap:"
	cbDeny     = "dn:"
	cbQuestion = "q:"
)

// ShowApproval renders the approve/deny prompt for a parked dangerous
// command. Wired into the agent loop as a callback.
func (c *Channel) ShowApproval(chatID int64, approvalID, command, reason string) {
	ctx := context.Background()
	text := fmt.Sprintf("⚠️ This command needs your approval:\n\n`%s`\n\n%s", command, reason)
	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ Run it").WithCallbackData(cbApprove+approvalID),
			tu.InlineKeyboardButton("❌ Cancel").WithCallbackData(cbDeny+approvalID),
		),
	)
	_ = c.gate.Do(ctx, chatID, false, func() error {
		msg := tu.Message(tu.ID(chatID), text).
			WithParseMode(telego.ModeMarkdown).
			WithReplyMarkup(keyboard)
		_, err := c.bot.SendMessage(ctx, msg)
		if err != nil && !isThrottle(err) {
			plain := tu.Message(tu.ID(chatID), text).WithReplyMarkup(keyboard)
			_, err = c.bot.SendMessage(ctx, plain)
		}
		return wrapThrottle(err)
	})
}

// PresentQuestion renders an ask_user prompt as one button per option.
// Wired into the ask_user tool as its presenter.
func (c *Channel) PresentQuestion(chatID int64, pq *approval.PendingQuestion) {
	ctx := context.Background()
	rows := make([][]telego.InlineKeyboardButton, 0, len(pq.Options))
	for i, option := range pq.Options {
		data := fmt.Sprintf("%s%s:%d", cbQuestion, pq.ID, i)
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(option).WithCallbackData(data),
		))
	}
	_ = c.gate.Do(ctx, chatID, false, func() error {
		msg := tu.Message(tu.ID(chatID), "❓ "+pq.Question).
			WithReplyMarkup(tu.InlineKeyboard(rows...))
		_, err := c.bot.SendMessage(ctx, msg)
		return wrapThrottle(err)
	})
}

// handleCallbackQuery routes button presses: command approvals and
// question answers. Approved commands execute directly through the
// sandbox; the originating agent turn has already moved on.
func (c *Channel) handleCallbackQuery(ctx context.Context, query *telego.CallbackQuery) {
	data := query.Data
	userID := query.From.ID

	answer := func(text string) {
		_ = c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
			CallbackQueryID: query.ID,
			Text:            text,
		})
	}

	switch {
	case strings.HasPrefix(data, cbApprove):
		id := strings.TrimPrefix(data, cbApprove)
		if !c.mayResolve(id, userID) {
			answer("This approval is not yours to give.")
			return
		}
		pending := c.approvals.Consume(id)
		if pending == nil {
			answer("Expired.")
			c.editCallbackMessage(ctx, query, "⌛ This approval expired.")
			return
		}
		metrics.ApprovalsResolved.WithLabelValues("approved").Inc()
		c.publishApproval(pending, "approved")
		answer("Running...")
		c.editCallbackMessage(ctx, query, fmt.Sprintf("✅ Approved:\n%s", pending.Command))
		go c.runApproved(pending)

	case strings.HasPrefix(data, cbDeny):
		id := strings.TrimPrefix(data, cbDeny)
		if !c.mayResolve(id, userID) {
			answer("This approval is not yours to give.")
			return
		}
		if !c.approvals.Cancel(id) {
			answer("Expired.")
			c.editCallbackMessage(ctx, query, "⌛ This approval expired.")
			return
		}
		metrics.ApprovalsResolved.WithLabelValues("denied").Inc()
		answer("Cancelled.")
		c.editCallbackMessage(ctx, query, "❌ Command cancelled.")

	case strings.HasPrefix(data, cbQuestion):
		rest := strings.TrimPrefix(data, cbQuestion)
		sep := strings.LastIndex(rest, ":")
		if sep <= 0 {
			answer("Malformed.")
			return
		}
		id := rest[:sep]
		choice := rest[sep+1:]
		if !c.resolveQuestion(id, choice) {
			answer("This question already expired.")
			return
		}
		answer("Got it.")
		c.editCallbackMessage(ctx, query, "✔️ Answered.")
	}
}

// mayResolve limits approval buttons to the user whose workspace the
// command would run in, plus the admin.
func (c *Channel) mayResolve(approvalID string, userID int64) bool {
	if userID == c.access.AdminID() {
		return true
	}
	owner := strconv.FormatInt(userID, 10)
	for _, pending := range c.approvals.ListForSession(owner) {
		if pending.ID == approvalID {
			return true
		}
	}
	return false
}

func (c *Channel) resolveQuestion(id, choiceIndex string) bool {
	idx, err := strconv.Atoi(choiceIndex)
	if err != nil {
		return false
	}
	pq, ok := c.questions.Get(id)
	if !ok || idx < 0 || idx >= len(pq.Options) {
		return false
	}
	return c.questions.Resolve(id, pq.Options[idx])
}

// runApproved executes a consumed command outside any agent turn and
// delivers the sanitized output as a fresh message.
func (c *Channel) runApproved(pending *approval.PendingCommand) {
	ctx := context.Background()
	userID, err := strconv.ParseInt(pending.SessionID, 10, 64)
	if err != nil {
		c.logger.Error("approval with malformed session id", "id", pending.ID, "session", pending.SessionID)
		return
	}
	output := c.exec.RunApproved(ctx, userID, pending.Command)
	if strings.TrimSpace(output) == "" {
		output = "(no output)"
	}
	c.sendText(ctx, pending.ChatID, false, output)
}

func (c *Channel) editCallbackMessage(ctx context.Context, query *telego.CallbackQuery, text string) {
	msg := query.Message
	if msg == nil {
		return
	}
	_, _ = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(msg.GetChat().ID),
		MessageID: msg.GetMessageID(),
		Text:      text,
	})
}

func (c *Channel) publishApproval(pending *approval.PendingCommand, state string) {
	if c.events == nil {
		return
	}
	userID, _ := strconv.ParseInt(pending.SessionID, 10, 64)
	c.events.Broadcast(bus.Now(bus.EventApproval, bus.ApprovalPayload{
		ID:      pending.ID,
		UserID:  userID,
		Command: pending.Command,
		State:   state,
	}))
}
