// Package pg backs the session store with Postgres. Hot sessions are
// cached in memory so the tool loop does not hit the database per
// iteration; writes go through on Save.
package pg

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sandbotdev/sandbot/internal/sessions"
	"github.com/sandbotdev/sandbot/internal/store"
)

// SessionStore implements store.SessionStore backed by Postgres.
type SessionStore struct {
	db         *sql.DB
	maxPairs   int
	maxBlocked int

	mu    sync.Mutex
	cache map[int64]*sessions.Session
}

func NewSessionStore(db *sql.DB, maxPairs, maxBlocked int) *SessionStore {
	return &SessionStore{
		db:         db,
		maxPairs:   maxPairs,
		maxBlocked: maxBlocked,
		cache:      make(map[int64]*sessions.Session),
	}
}

var _ store.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) get(userID int64) *sessions.Session {
	if cached, ok := s.cache[userID]; ok {
		return cached
	}
	sess := s.loadFromDB(userID)
	if sess == nil {
		now := time.Now()
		sess = &sessions.Session{UserID: userID, Pairs: []sessions.Pair{}, Created: now, Updated: now}
	}
	s.cache[userID] = sess
	return sess
}

func (s *SessionStore) loadFromDB(userID int64) *sessions.Session {
	var (
		pairsJSON    []byte
		blockedCount int
		created      time.Time
		updated      time.Time
	)
	err := s.db.QueryRow(
		`SELECT pairs, blocked_count, created_at, updated_at FROM sessions WHERE user_id = $1`,
		userID,
	).Scan(&pairsJSON, &blockedCount, &created, &updated)
	if err != nil {
		if err != sql.ErrNoRows {
			slog.Warn("session load failed", "user_id", userID, "error", err)
		}
		return nil
	}
	var pairs []sessions.Pair
	if err := json.Unmarshal(pairsJSON, &pairs); err != nil {
		slog.Warn("session pairs corrupt, starting fresh", "user_id", userID, "error", err)
		pairs = nil
	}
	return &sessions.Session{
		UserID:       userID,
		Pairs:        pairs,
		BlockedCount: blockedCount,
		Created:      created,
		Updated:      updated,
	}
}

func (s *SessionStore) History(userID int64) []sessions.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	pairs := make([]sessions.Pair, len(sess.Pairs))
	copy(pairs, sess.Pairs)
	return pairs
}

func (s *SessionStore) AppendPair(userID int64, user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	sess.Pairs = append(sess.Pairs, sessions.Pair{User: user, Assistant: assistant})
	if s.maxPairs > 0 && len(sess.Pairs) > s.maxPairs {
		sess.Pairs = sess.Pairs[len(sess.Pairs)-s.maxPairs:]
	}
	sess.Updated = time.Now()
}

func (s *SessionStore) RecordBlocked(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	sess.BlockedCount++
	sess.Updated = time.Now()
	return sess.BlockedCount
}

func (s *SessionStore) BlockedCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID).BlockedCount
}

func (s *SessionStore) Locked(userID int64) bool {
	if s.maxBlocked <= 0 {
		return false
	}
	return s.BlockedCount(userID) >= s.maxBlocked
}

func (s *SessionStore) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	sess.Pairs = []sessions.Pair{}
	sess.BlockedCount = 0
	sess.Updated = time.Now()
}

func (s *SessionStore) Delete(userID int64) error {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

func (s *SessionStore) List() []sessions.Info {
	rows, err := s.db.Query(
		`SELECT user_id, jsonb_array_length(pairs), blocked_count, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		slog.Warn("session list failed", "error", err)
		return nil
	}
	defer rows.Close()

	var result []sessions.Info
	for rows.Next() {
		var info sessions.Info
		if err := rows.Scan(&info.UserID, &info.PairCount, &info.BlockedCount, &info.Updated); err != nil {
			continue
		}
		result = append(result, info)
	}
	return result
}

func (s *SessionStore) Save(userID int64) error {
	s.mu.Lock()
	sess, ok := s.cache[userID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	snapshot := *sess
	snapshot.Pairs = make([]sessions.Pair, len(sess.Pairs))
	copy(snapshot.Pairs, sess.Pairs)
	s.mu.Unlock()

	pairsJSON, err := json.Marshal(snapshot.Pairs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (user_id, pairs, blocked_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   pairs = EXCLUDED.pairs,
		   blocked_count = EXCLUDED.blocked_count,
		   updated_at = EXCLUDED.updated_at`,
		snapshot.UserID, pairsJSON, snapshot.BlockedCount, snapshot.Created, snapshot.Updated,
	)
	return err
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}
