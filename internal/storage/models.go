package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Scan statuses. A scan moves queued -> extracting -> extracted -> completed,
// or terminates at failed if extraction fails.
const (
	StatusQueued     = "queued"
	StatusExtracting = "extracting"
	StatusExtracted  = "extracted"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Scan is one user-submitted image processing job tracked end-to-end.
// Optional string fields are empty until the corresponding pipeline branch
// has produced them.
type Scan struct {
	ID            string
	RoomKey       string // idempotency key for a logical physical slot
	Status        string
	OriginalURL   string
	ProcessedURL  string
	StylizedURL   string
	ReimaginedURL string
	NarrativeText string
	Semester      string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
