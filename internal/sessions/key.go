// Package sessions — session identity helpers.
//
// Sessions are keyed by the numeric chat-platform user ID. Group
// conversations still map to the sender's personal session: workspace,
// history and blocked counter all follow the person, not the chat.
package sessions

import (
	"fmt"
	"strconv"
	"strings"
)

// PeerKind distinguishes a direct chat from a group chat.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// FileName is the on-disk name for one user's session.
func FileName(userID int64) string {
	return fmt.Sprintf("session_%d.json", userID)
}

// UserIDFromFileName inverts FileName. Returns 0 for foreign files.
func UserIDFromFileName(name string) int64 {
	rest, ok := strings.CutPrefix(name, "session_")
	if !ok {
		return 0
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// PeerKindFromGroup returns PeerGroup if isGroup is true.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
