// Package file backs the session store with per-user JSON files.
package file

import (
	"github.com/sandbotdev/sandbot/internal/sessions"
	"github.com/sandbotdev/sandbot/internal/store"
)

// SessionStore wraps sessions.Manager to implement store.SessionStore.
type SessionStore struct {
	mgr *sessions.Manager
}

func NewSessionStore(storage string, maxPairs, maxBlocked int) *SessionStore {
	return &SessionStore{mgr: sessions.NewManager(storage, maxPairs, maxBlocked)}
}

var _ store.SessionStore = (*SessionStore)(nil)

func (f *SessionStore) History(userID int64) []sessions.Pair {
	return f.mgr.History(userID)
}

func (f *SessionStore) AppendPair(userID int64, user, assistant string) {
	f.mgr.AppendPair(userID, user, assistant)
}

func (f *SessionStore) RecordBlocked(userID int64) int {
	return f.mgr.RecordBlocked(userID)
}

func (f *SessionStore) BlockedCount(userID int64) int {
	return f.mgr.BlockedCount(userID)
}

func (f *SessionStore) Locked(userID int64) bool {
	return f.mgr.Locked(userID)
}

func (f *SessionStore) Clear(userID int64) {
	f.mgr.Clear(userID)
}

func (f *SessionStore) Delete(userID int64) error {
	return f.mgr.Delete(userID)
}

func (f *SessionStore) List() []sessions.Info {
	return f.mgr.List()
}

func (f *SessionStore) Save(userID int64) error {
	return f.mgr.Save(userID)
}

func (f *SessionStore) Close() error { return nil }
