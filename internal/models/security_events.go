package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the collaborating front end.
const (
	EventLoginSuccess   = "login_success"
	EventLoginFailed    = "login_failed"
	EventAccountCreated = "account_created"
	EventPasswordReset  = "password_reset"
)

// Risk levels derived from the numeric score.
const (
	RiskLevelLow    = "Low"
	RiskLevelMedium = "Medium"
	RiskLevelHigh   = "High"
)

// SecurityEvent is one authentication attempt. Risk score and level start
// unset and are written exactly once by the evaluator.
type SecurityEvent struct {
	EventBucket int               `db:"event_bucket" json:"-"`
	EventDate   string            `db:"event_date" json:"-"`
	EventID     uuid.UUID         `db:"event_id" json:"event_id"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	EventType   string            `db:"event_type" json:"event_type"`
	UserEmail   string            `db:"user_email" json:"user_email,omitempty"`
	IPAddress   string            `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   string            `db:"user_agent" json:"user_agent,omitempty"`
	Success     bool              `db:"success" json:"success"`
	RiskScore   *int              `db:"risk_score" json:"risk_score,omitempty"`
	RiskLevel   string            `db:"risk_level" json:"risk_level,omitempty"`
	Metadata    map[string]string `db:"metadata" json:"metadata,omitempty"`
}
