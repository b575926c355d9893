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

// eventRepository persists security events and serves the evaluator's
// windowed failure counts from the denormalized by-email/by-ip tables.
type eventRepository struct {
	client       *ScyllaClient
	bucketingMgr *bucketing.BucketingManager
}

func NewEventRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) EventRepository {
	return &eventRepository{
		client:       client,
		bucketingMgr: bucketingMgr,
	}
}

// NewHistoryRepository exposes the failure-count queries over the same
// session. The event writes keep the by-email/by-ip tables current, so both
// views share one repository struct.
func NewHistoryRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager, logger *zap.Logger) HistoryRepository {
	return &eventRepository{
		client:       client,
		bucketingMgr: bucketingMgr,
	}
}

func (r *eventRepository) InsertEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.EventBucket = r.bucketingMgr.EventBucket(event.EventID)
	event.EventDate = r.bucketingMgr.DateBucket(event.CreatedAt)

	var score interface{}
	if event.RiskScore != nil {
		score = *event.RiskScore
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.InsertEvent.Statement(),
		event.EventBucket, event.EventID.String(), event.EventDate, event.CreatedAt,
		event.EventType, event.UserEmail, event.IPAddress, event.UserAgent,
		event.Success, score, event.RiskLevel, event.Metadata)

	// Failed attempts are additionally written to the count tables keyed by
	// identity and origin; absent identity/origin rows are simply skipped.
	if !event.Success {
		if event.UserEmail != "" {
			batch.Query(r.client.Prepared.InsertFailedByEmail.Statement(),
				event.UserEmail, event.CreatedAt, event.EventID.String())
		}
		if event.IPAddress != "" {
			batch.Query(r.client.Prepared.InsertFailedByIP.Statement(),
				event.IPAddress, event.CreatedAt, event.EventID.String())
		}
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert security event",
			zap.String("event_id", event.EventID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	util.Debug("Security event inserted",
		zap.String("event_id", event.EventID.String()),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success))

	return nil
}

func (r *eventRepository) GetEventByID(ctx context.Context, eventID uuid.UUID) (*models.SecurityEvent, error) {
	event := &models.SecurityEvent{}
	bucket := r.bucketingMgr.EventBucket(eventID)

	var (
		idStr string
		score *int
	)

	query := r.client.Prepared.GetEventByID.Bind(bucket, eventID.String()).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&event.EventBucket, &idStr, &event.EventDate, &event.CreatedAt,
		&event.EventType, &event.UserEmail, &event.IPAddress, &event.UserAgent,
		&event.Success, &score, &event.RiskLevel, &event.Metadata)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrEventNotFound
		}
		util.Error("Failed to get security event",
			zap.String("event_id", eventID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get security event: %w", err)
	}

	event.EventID = eventID
	event.RiskScore = score
	return event, nil
}

func (r *eventRepository) UpdateEventRisk(ctx context.Context, eventID uuid.UUID, score int, level string) error {
	bucket := r.bucketingMgr.EventBucket(eventID)

	query := r.client.Prepared.UpdateEventRisk.
		Bind(score, level, bucket, eventID.String()).
		WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update event risk",
			zap.String("event_id", eventID.String()),
			zap.Int("risk_score", score),
			zap.Error(err))
		return fmt.Errorf("failed to update event risk: %w", err)
	}

	return nil
}

func (r *eventRepository) CountFailedByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	if email == "" {
		return 0, nil
	}

	var count int
	query := r.client.Prepared.CountFailedByEmail.Bind(email, since).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &count); err != nil {
		util.Error("Failed to count failures by email",
			zap.String("user_email", email),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count failures by email: %w", err)
	}
	return count, nil
}

func (r *eventRepository) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	if ip == "" {
		return 0, nil
	}

	var count int
	query := r.client.Prepared.CountFailedByIP.Bind(ip, since).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &count); err != nil {
		util.Error("Failed to count failures by ip",
			zap.String("ip_address", ip),
			zap.Error(err))
		return 0, fmt.Errorf("failed to count failures by ip: %w", err)
	}
	return count, nil
}
