package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandbotdev/sandbot/internal/activity"
	"github.com/sandbotdev/sandbot/internal/security"
)

const maxSendFileBytes = 50 * 1024 * 1024 // Telegram bot upload cap

// SendFileTool queues a workspace file for delivery to the chat. The
// chat layer performs the actual upload after the tool returns.
type SendFileTool struct {
	guard    *security.PathGuard
	activity *activity.Log
}

func NewSendFileTool(guard *security.PathGuard, act *activity.Log) *SendFileTool {
	return &SendFileTool{guard: guard, activity: act}
}

func (t *SendFileTool) Name() string { return "send_file" }

func (t *SendFileTool) Description() string {
	return "Send a file from your workspace to the user as a document attachment."
}

func (t *SendFileTool) Parameters() map[string]any {
	return pathParam("File path inside your workspace.")
}

func (t *SendFileTool) Execute(ctx context.Context, call *Call) *Result {
	path, _ := call.Args["path"].(string)
	resolved, err := t.guard.Resolve(path, call.UserID)
	if err != nil {
		return BlockedResult("🚫 BLOCKED: " + err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot send %s: %v", path, err))
	}
	if info.IsDir() {
		return ErrorResult("cannot send a directory")
	}
	if info.Size() > maxSendFileBytes {
		return ErrorResult(fmt.Sprintf("file is too large to send (%d MB, limit 50 MB)", info.Size()/(1024*1024)))
	}

	t.activity.Record(call.UserID, "send_file", path)
	res := NewResult(fmt.Sprintf("file %s queued for sending", filepath.Base(resolved)))
	res.FilePath = resolved
	return res
}
