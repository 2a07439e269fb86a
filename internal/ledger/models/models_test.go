package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureEntryIsRetryableAt(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	cooldown := 5 * time.Minute
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	assert.True(t, (&FailureEntry{}).IsRetryableAt(now, cooldown), "never attempted")
	assert.False(t, (&FailureEntry{LastAttemptAt: at(0)}).IsRetryableAt(now, cooldown), "just attempted")
	assert.False(t, (&FailureEntry{LastAttemptAt: at(-4 * time.Minute)}).IsRetryableAt(now, cooldown))
	assert.True(t, (&FailureEntry{LastAttemptAt: at(-5 * time.Minute)}).IsRetryableAt(now, cooldown), "cooldown boundary")
	assert.False(t, (&FailureEntry{Synced: true}).IsRetryableAt(now, cooldown), "synced entries are done")
}
