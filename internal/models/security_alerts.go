package models

import (
	"time"

	"github.com/google/uuid"
)

// Alert types, most specific first: the account rule outranks the IP rule.
const (
	AlertBruteForceAccount = "Brute Force (Account)"
	AlertBruteForceIP      = "Brute Force (IP)"
	AlertHighRiskLogin     = "High Risk Login"
)

// Alert statuses. Closed is terminal; there is no reopen transition.
const (
	AlertStatusOpen   = "Open"
	AlertStatusClosed = "Closed"
)

// SecurityAlert is the operator-facing incident record, created only when an
// evaluation yields a High risk level.
type SecurityAlert struct {
	AlertID        uuid.UUID  `db:"alert_id" json:"alert_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	AlertType      string     `db:"alert_type" json:"alert_type"`
	RiskLevel      string     `db:"risk_level" json:"risk_level"`
	Description    string     `db:"description" json:"description"`
	Status         string     `db:"status" json:"status"`
	RelatedEventID *uuid.UUID `db:"related_event_id" json:"related_event_id,omitempty"`
}
