package scylla

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"soc-monitor/internal/models"
)

var (
	ErrEventNotFound   = errors.New("security event not found")
	ErrProfileNotFound = errors.New("login profile not found")
	ErrAlertNotFound   = errors.New("security alert not found")
)

// EventRepository stores security events and the write-once risk annotation.
type EventRepository interface {
	InsertEvent(ctx context.Context, event *models.SecurityEvent) error
	GetEventByID(ctx context.Context, eventID uuid.UUID) (*models.SecurityEvent, error)
	UpdateEventRisk(ctx context.Context, eventID uuid.UUID, score int, level string) error
}

// HistoryRepository answers the windowed failure-count queries the evaluator
// runs. Empty identity/origin never matches a group: callers get 0.
type HistoryRepository interface {
	CountFailedByEmail(ctx context.Context, email string, since time.Time) (int, error)
	CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error)
}

// ProfileRepository is the lockout profile store. Read-then-conditionally-
// insert-or-update semantics; no atomic upsert is assumed.
type ProfileRepository interface {
	GetProfile(ctx context.Context, email string) (*models.LoginProfile, error)
	InsertProfile(ctx context.Context, profile *models.LoginProfile) error
	UpdateProfile(ctx context.Context, profile *models.LoginProfile) error
}

// AlertRepository stores operator-facing incident records.
type AlertRepository interface {
	InsertAlert(ctx context.Context, alert *models.SecurityAlert) error
	GetAlertByID(ctx context.Context, alertID uuid.UUID) (*models.SecurityAlert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error)
	CloseAlert(ctx context.Context, alertID uuid.UUID) error
}
