// Package store defines the persistence interfaces shared by the file
// and Postgres backends.
package store

// Stores is the top-level container for all storage backends.
type Stores struct {
	Sessions SessionStore
}

// Close releases every backend.
func (s *Stores) Close() error {
	if s.Sessions != nil {
		return s.Sessions.Close()
	}
	return nil
}
