package models

import "time"

// LoginProfile is the per-identity lockout state, one row per email.
// FailedAttempts resets to 0 on any successful event and increments by 1 on a
// failed one. LockedUntil is set only when the brute-force threshold trips and
// is preserved, not cleared, by later non-triggering outcomes.
type LoginProfile struct {
	ProfileBucket  int        `db:"profile_bucket" json:"-"`
	UserEmail      string     `db:"user_email" json:"user_email"`
	FailedAttempts int        `db:"failed_attempts" json:"failed_attempts"`
	LockedUntil    *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	LastIP         string     `db:"-" json:"last_ip,omitempty"`
	LastIPSealed   []byte     `db:"last_ip_sealed" json:"-"`
	LastIPKeyID    string     `db:"last_ip_key_id" json:"-"`
	LastSeen       time.Time  `db:"last_seen" json:"last_seen"`
}

// IsLocked reports whether the profile is still locked at the given instant.
func (p *LoginProfile) IsLocked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}
