package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsLocked(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	unlocked := &LoginProfile{}
	assert.False(t, unlocked.IsLocked(now))

	future := now.Add(time.Minute)
	locked := &LoginProfile{LockedUntil: &future}
	assert.True(t, locked.IsLocked(now))

	// The expiry instant itself is no longer locked
	assert.False(t, locked.IsLocked(future))

	past := now.Add(-time.Minute)
	expired := &LoginProfile{LockedUntil: &past}
	assert.False(t, expired.IsLocked(now))
}
