package domain

import "time"

// User is the ledger view of an account
type User struct {
	UserID     string    `db:"user_id"`
	Balance    int       `db:"balance"`
	FreeUsed   bool      `db:"free_used"`
	Converted  bool      `db:"converted"`
	ReferredBy *string   `db:"referred_by"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Referrer returns the referring user id, or "" when the user was not referred
func (u User) Referrer() string {
	if u.ReferredBy == nil {
		return ""
	}
	return *u.ReferredBy
}

// GenerationRecord is the persisted outcome of a successful job
type GenerationRecord struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	UserID    string         `json:"user_id"`
	Type      JobType        `json:"type"`
	Cost      int            `json:"cost"`
	URLs      []string       `json:"urls"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
