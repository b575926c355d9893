package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"soc-monitor/internal/bucketing"
	"soc-monitor/internal/models"
	"soc-monitor/internal/util"
)

// alertRepository stores incident records twice: once by alert id for direct
// lookups, once in a day-keyed table for the operator's recent-alert listing.
type alertRepository struct {
	client       *ScyllaClient
	bucketingMgr *bucketing.BucketingManager
}

func NewAlertRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) AlertRepository {
	return &alertRepository{
		client:       client,
		bucketingMgr: bucketingMgr,
	}
}

func (r *alertRepository) InsertAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if alert.AlertID == uuid.Nil {
		alert.AlertID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	alertDate := r.bucketingMgr.DateBucket(alert.CreatedAt)

	var relatedID string
	if alert.RelatedEventID != nil {
		relatedID = alert.RelatedEventID.String()
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.InsertAlert.Statement(),
		alert.AlertID.String(), alert.CreatedAt, alert.AlertType,
		alert.RiskLevel, alert.Description, alert.Status, relatedID)
	batch.Query(r.client.Prepared.InsertAlertByDay.Statement(),
		alertDate, alert.CreatedAt, alert.AlertID.String(), alert.AlertType,
		alert.RiskLevel, alert.Description, alert.Status, relatedID)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert security alert",
			zap.String("alert_id", alert.AlertID.String()),
			zap.String("alert_type", alert.AlertType),
			zap.Error(err))
		return fmt.Errorf("failed to insert security alert: %w", err)
	}

	util.Info("Security alert created",
		zap.String("alert_id", alert.AlertID.String()),
		zap.String("alert_type", alert.AlertType),
		zap.String("risk_level", alert.RiskLevel))

	return nil
}

func (r *alertRepository) GetAlertByID(ctx context.Context, alertID uuid.UUID) (*models.SecurityAlert, error) {
	alert := &models.SecurityAlert{}

	var idStr, relatedID string

	query := r.client.Prepared.GetAlertByID.Bind(alertID.String()).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&idStr, &alert.CreatedAt, &alert.AlertType, &alert.RiskLevel,
		&alert.Description, &alert.Status, &relatedID)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrAlertNotFound
		}
		util.Error("Failed to get security alert",
			zap.String("alert_id", alertID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get security alert: %w", err)
	}

	alert.AlertID = alertID
	if relatedID != "" {
		if parsed, err := uuid.Parse(relatedID); err == nil {
			alert.RelatedEventID = &parsed
		}
	}
	return alert, nil
}

func (r *alertRepository) ListRecentAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	alerts := make([]*models.SecurityAlert, 0, limit)
	now := time.Now().UTC()

	// Day-keyed partitions: walk backwards from today until the limit fills.
	for day := 0; day < 7 && len(alerts) < limit; day++ {
		alertDate := r.bucketingMgr.DateBucket(now.AddDate(0, 0, -day))

		iter := r.client.Prepared.ListAlertsByDay.
			Bind(alertDate, limit-len(alerts)).
			WithContext(ctx).
			Iter()

		var (
			idStr, alertType, riskLevel, description, status, relatedID string
			createdAt                                                   time.Time
		)
		for iter.Scan(&idStr, &createdAt, &alertType, &riskLevel, &description, &status, &relatedID) {
			alert := &models.SecurityAlert{
				CreatedAt:   createdAt,
				AlertType:   alertType,
				RiskLevel:   riskLevel,
				Description: description,
				Status:      status,
			}
			if parsed, err := uuid.Parse(idStr); err == nil {
				alert.AlertID = parsed
			}
			if relatedID != "" {
				if parsed, err := uuid.Parse(relatedID); err == nil {
					alert.RelatedEventID = &parsed
				}
			}
			alerts = append(alerts, alert)
		}
		if err := iter.Close(); err != nil {
			util.Error("Failed to list security alerts",
				zap.String("alert_date", alertDate),
				zap.Error(err))
			return nil, fmt.Errorf("failed to list security alerts: %w", err)
		}
	}

	return alerts, nil
}

func (r *alertRepository) CloseAlert(ctx context.Context, alertID uuid.UUID) error {
	alert, err := r.GetAlertByID(ctx, alertID)
	if err != nil {
		return err
	}
	alertDate := r.bucketingMgr.DateBucket(alert.CreatedAt)

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.CloseAlert.Statement(),
		models.AlertStatusClosed, alertID.String())
	batch.Query(r.client.Prepared.CloseAlertByDay.Statement(),
		models.AlertStatusClosed, alertDate, alert.CreatedAt, alertID.String())

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to close security alert",
			zap.String("alert_id", alertID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to close security alert: %w", err)
	}

	util.Info("Security alert closed", zap.String("alert_id", alertID.String()))
	return nil
}
