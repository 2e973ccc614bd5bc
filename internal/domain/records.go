package domain

import (
	"time"

	"github.com/google/uuid"
)

// Interview is one interview record in the remote store.
type Interview struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	JobID     string        `json:"job_id,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Key returns the record key used for cache merging.
func (i Interview) Key() string { return i.ID }

// Job is one job record in the remote store.
type Job struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Key returns the record key used for cache merging.
func (j Job) Key() string { return j.ID }

// NewRecordID generates an identifier for a freshly created record.
func NewRecordID() string {
	return uuid.NewString()
}
