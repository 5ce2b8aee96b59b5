package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Manager handles session lifecycle, persistence and the per-session
// security lock.
type Manager struct {
	sessions   map[int64]*Session
	mu         sync.RWMutex
	storage    string
	maxPairs   int
	maxBlocked int
}

// NewManager loads existing sessions from the storage directory. With
// an empty storage path sessions live in memory only.
func NewManager(storage string, maxPairs, maxBlocked int) *Manager {
	m := &Manager{
		sessions:   make(map[int64]*Session),
		storage:    storage,
		maxPairs:   maxPairs,
		maxBlocked: maxBlocked,
	}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
		m.loadAll()
	}
	return m
}

// GetOrCreate returns an existing session or creates a new one.
func (m *Manager) GetOrCreate(userID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrInit(userID)
}

func (m *Manager) getOrInit(userID int64) *Session {
	if s, ok := m.sessions[userID]; ok {
		return s
	}
	s := &Session{
		UserID:  userID,
		Pairs:   []Pair{},
		Created: time.Now(),
		Updated: time.Now(),
	}
	m.sessions[userID] = s
	return s
}

// AppendPair records one completed exchange, trimming the oldest
// entries past the pair cap.
func (m *Manager) AppendPair(userID int64, user, assistant string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrInit(userID)
	s.Pairs = trimPairs(append(s.Pairs, Pair{User: user, Assistant: assistant}), m.maxPairs)
	s.Updated = time.Now()
}

// History returns a copy of the stored pairs.
func (m *Manager) History(userID int64) []Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	pairs := make([]Pair, len(s.Pairs))
	copy(pairs, s.Pairs)
	return pairs
}

// RecordBlocked bumps the session's security-violation counter and
// returns the new count.
func (m *Manager) RecordBlocked(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrInit(userID)
	s.BlockedCount++
	s.Updated = time.Now()
	return s.BlockedCount
}

// BlockedCount returns the current violation count.
func (m *Manager) BlockedCount(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[userID]; ok {
		return s.BlockedCount
	}
	return 0
}

// Locked reports whether the session has crossed the violation
// threshold. A locked session refuses further turns until cleared.
func (m *Manager) Locked(userID int64) bool {
	if m.maxBlocked <= 0 {
		return false
	}
	return m.BlockedCount(userID) >= m.maxBlocked
}

// Clear resets history and the violation counter.
func (m *Manager) Clear(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		s.Pairs = []Pair{}
		s.BlockedCount = 0
		s.Updated = time.Now()
	}
}

// Delete removes a session entirely, including its file.
func (m *Manager) Delete(userID int64) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()

	if m.storage != "" {
		path := filepath.Join(m.storage, FileName(userID))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Info is a lightweight session descriptor for listing.
type Info struct {
	UserID       int64     `json:"user_id"`
	PairCount    int       `json:"pair_count"`
	BlockedCount int       `json:"blocked_count"`
	Updated      time.Time `json:"updated"`
}

// List returns metadata for all sessions.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, Info{
			UserID:       s.UserID,
			PairCount:    len(s.Pairs),
			BlockedCount: s.BlockedCount,
			Updated:      s.Updated,
		})
	}
	return result
}

// Save persists a session to disk atomically.
func (m *Manager) Save(userID int64) error {
	if m.storage == "" {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[userID]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := *s
	snapshot.Pairs = make([]Pair, len(s.Pairs))
	copy(snapshot.Pairs, s.Pairs)
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(m.storage, FileName(userID))

	// Atomic write: temp file, sync, rename.
	tmp, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || UserIDFromFileName(f.Name()) == 0 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, f.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		s.Pairs = trimPairs(s.Pairs, m.maxPairs)
		m.sessions[s.UserID] = &s
	}
}
