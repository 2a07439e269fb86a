package models

import (
	"time"

	"github.com/google/uuid"
)

// FailureEntry is a quarantined source record that failed processing.
//
// SourceID is unique: repeated failures update one entry. Once synced through
// the retry path, EncryptedNaturalKey holds a one-way hash instead of a token.
type FailureEntry struct {
	ID                  uuid.UUID
	SourceID            string
	OriginalTimestamp   time.Time
	AttemptCount        int
	LastError           string
	LastAttemptAt       *time.Time
	CreatedAt           time.Time
	EncryptedNaturalKey string
	EncryptedPayload    string
	Synced              bool
}

// IsRetryableAt reports whether the entry is due for another attempt at now.
func (e *FailureEntry) IsRetryableAt(now time.Time, cooldown time.Duration) bool {
	if e.Synced {
		return false
	}
	if e.LastAttemptAt == nil {
		return true
	}
	return !e.LastAttemptAt.After(now.Add(-cooldown))
}

// RetryOutcome is the state written after a retry attempt.
type RetryOutcome struct {
	LastError      string
	AttemptedAt    time.Time
	Synced         bool
	NaturalKeyHash string
}
