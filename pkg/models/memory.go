package models

import "time"

// MemoryEntry is one key/value pair in an agent user's memory store.
// Entries are scoped to user_id; the primary backend is a networked
// cache with a per-user file fallback.
type MemoryEntry struct {
	UserID    string    `json:"user_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether a TTL-bearing entry has lapsed. Entries
// without an expiry never expire.
func (m *MemoryEntry) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}
