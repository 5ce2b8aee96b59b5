package store

import "github.com/sandbotdev/sandbot/internal/sessions"

// SessionStore persists per-user conversation state. Two backends
// exist: the file store (default) and Postgres.
type SessionStore interface {
	History(userID int64) []sessions.Pair
	AppendPair(userID int64, user, assistant string)
	RecordBlocked(userID int64) int
	BlockedCount(userID int64) int
	Locked(userID int64) bool
	Clear(userID int64)
	Delete(userID int64) error
	List() []sessions.Info
	Save(userID int64) error
	Close() error
}
