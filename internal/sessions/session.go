// Package sessions keeps per-user conversation history. Only
// (user, assistant) pairs are stored; tool calls and tool outputs are
// deliberately never persisted, so a past command's output cannot leak
// into a future prompt.
package sessions

import "time"

// Pair is one completed exchange.
type Pair struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Session is the durable state for one chat user.
type Session struct {
	UserID       int64     `json:"user_id"`
	Pairs        []Pair    `json:"pairs"`
	BlockedCount int       `json:"blocked_count"` // security violations this session
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// trimPairs drops the oldest entries past the cap.
func trimPairs(pairs []Pair, maxPairs int) []Pair {
	if maxPairs <= 0 || len(pairs) <= maxPairs {
		return pairs
	}
	return pairs[len(pairs)-maxPairs:]
}
