package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"soc-monitor/internal/models"
	"soc-monitor/internal/notifier"
	"soc-monitor/internal/repository/scylla"
)

var ErrAlertAlreadyClosed = errors.New("alert is already closed")

// AlertPublisher streams opened alerts to the audit topic.
type AlertPublisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

// AlertIndexer makes alerts searchable for operators.
type AlertIndexer interface {
	IndexAlert(ctx context.Context, alertID string, doc interface{}) error
	SearchAlerts(ctx context.Context, query string, size int) ([]json.RawMessage, error)
}

// DispatchInput carries everything the dispatcher needs from an evaluation.
type DispatchInput struct {
	RiskLevel       string
	BruteForceEmail bool
	ExcessiveIP     bool
	UserEmail       string
	IPAddress       string
	EmailFailures   int
	IPFailures      int
	RelatedEventID  uuid.UUID
}

// AlertService turns high-risk evaluations into persisted alerts and
// best-effort notifications. The alert row is the guarantee; mail, indexing
// and streaming must never prevent it from existing.
type AlertService struct {
	alertRepo scylla.AlertRepository
	notifier  notifier.Notifier
	publisher AlertPublisher
	indexer   AlertIndexer
	logger    *zap.Logger
	now       func() time.Time
}

func NewAlertService(
	alertRepo scylla.AlertRepository,
	sink notifier.Notifier,
	publisher AlertPublisher,
	indexer AlertIndexer,
	logger *zap.Logger,
) *AlertService {
	return &AlertService{
		alertRepo: alertRepo,
		notifier:  sink,
		publisher: publisher,
		indexer:   indexer,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch creates one Open alert for a High evaluation and then notifies.
// Type selection order, first match wins: account brute force, then IP brute
// force, then generic high risk.
func (s *AlertService) Dispatch(ctx context.Context, in DispatchInput) (*models.SecurityAlert, error) {
	alertType := models.AlertHighRiskLogin
	switch {
	case in.BruteForceEmail:
		alertType = models.AlertBruteForceAccount
	case in.ExcessiveIP:
		alertType = models.AlertBruteForceIP
	}

	subject := in.UserEmail
	if subject == "" {
		subject = "unknown"
	}

	eventID := in.RelatedEventID
	alert := &models.SecurityAlert{
		AlertID:        uuid.New(),
		CreatedAt:      s.now().UTC(),
		AlertType:      alertType,
		RiskLevel:      in.RiskLevel,
		Description:    fmt.Sprintf("High risk login detected for %s", subject),
		Status:         models.AlertStatusOpen,
		RelatedEventID: &eventID,
	}

	if err := s.alertRepo.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.notify(ctx, alert, in)

	if s.indexer != nil {
		if err := s.indexer.IndexAlert(ctx, alert.AlertID.String(), alert); err != nil {
			s.logger.Warn("Failed to index alert",
				zap.String("alert_id", alert.AlertID.String()),
				zap.Error(err))
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, alert.AlertID.String(), alert); err != nil {
			s.logger.Warn("Failed to publish alert to audit topic",
				zap.String("alert_id", alert.AlertID.String()),
				zap.Error(err))
		}
	}

	return alert, nil
}

func (s *AlertService) notify(ctx context.Context, alert *models.SecurityAlert, in DispatchInput) {
	subject := fmt.Sprintf("SOC Alert: %s [%s]", alert.AlertType, alert.RiskLevel)
	body := BuildAlertBody(alert, in)

	if err := s.notifier.Send(ctx, subject, body); err != nil {
		// Notification is best-effort: the alert already exists.
		s.logger.Warn("Failed to send alert notification",
			zap.String("alert_id", alert.AlertID.String()),
			zap.Error(err))
		return
	}
}

// BuildAlertBody renders the operator notification text.
func BuildAlertBody(alert *models.SecurityAlert, in DispatchInput) string {
	email := in.UserEmail
	if email == "" {
		email = "Unknown"
	}
	ip := in.IPAddress
	if ip == "" {
		ip = "Unknown"
	}

	return fmt.Sprintf(`SOC Alert Notification

Alert Type: %s
Risk Level: %s
User: %s
IP Address: %s
Failed Attempts (Email): %d
Failed Attempts (IP): %d
Time: %s

Description:
%s

-- SOC Monitoring System`,
		alert.AlertType, alert.RiskLevel, email, ip,
		in.EmailFailures, in.IPFailures,
		alert.CreatedAt.Format(time.RFC3339),
		alert.Description)
}

// ListAlerts returns the most recent alerts, newest first.
func (s *AlertService) ListAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	alerts, err := s.alertRepo.ListRecentAlerts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return alerts, nil
}

// CloseAlert transitions an alert Open -> Closed. Closed is terminal.
func (s *AlertService) CloseAlert(ctx context.Context, alertID uuid.UUID) error {
	alert, err := s.alertRepo.GetAlertByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, scylla.ErrAlertNotFound) {
			return ErrAlertNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if alert.Status == models.AlertStatusClosed {
		return ErrAlertAlreadyClosed
	}

	if err := s.alertRepo.CloseAlert(ctx, alertID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SearchAlerts queries the alert index; unavailable search is an error the
// handler can surface, not an evaluation-path concern.
func (s *AlertService) SearchAlerts(ctx context.Context, query string, size int) ([]json.RawMessage, error) {
	if s.indexer == nil {
		return nil, errors.New("alert search is not configured")
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return s.indexer.SearchAlerts(ctx, query, size)
}
