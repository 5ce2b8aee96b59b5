package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sandbotdev/sandbot/internal/approval"
)

// QuestionPresenter renders a pending question to the user, typically
// as inline buttons in the chat.
type QuestionPresenter func(chatID int64, pq *approval.PendingQuestion)

// AskUserTool suspends the agent turn on a question until the user
// picks an option or the question times out.
type AskUserTool struct {
	questions *approval.Questions
	present   QuestionPresenter
}

func NewAskUserTool(questions *approval.Questions, present QuestionPresenter) *AskUserTool {
	return &AskUserTool{questions: questions, present: present}
}

func (t *AskUserTool) Name() string { return "ask_user" }

func (t *AskUserTool) Description() string {
	return "Ask the user to choose between options and wait for the answer. Use only when you cannot proceed without their decision."
}

func (t *AskUserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question": map[string]any{"type": "string", "description": "The question to ask."},
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "2-4 short answer options.",
			},
		},
		"required": []string{"question", "options"},
	}
}

func (t *AskUserTool) Execute(ctx context.Context, call *Call) *Result {
	question, _ := call.Args["question"].(string)
	if question == "" {
		return ErrorResult("question is required")
	}
	var options []string
	if raw, ok := call.Args["options"].([]any); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok && s != "" {
				options = append(options, s)
			}
		}
	}
	if len(options) < 2 {
		return ErrorResult("at least two options are required")
	}

	pq := t.questions.Ask(strconv.FormatInt(call.UserID, 10), question, options)
	if t.present != nil {
		t.present(call.ChatID, pq)
	}

	choice, err := t.questions.Wait(ctx, pq)
	if err != nil {
		return ErrorResult(fmt.Sprintf("no answer received: %v", err))
	}
	return NewResult("user chose: " + choice)
}
