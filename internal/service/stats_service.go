package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"soc-monitor/internal/client"
	"soc-monitor/internal/models"
	"soc-monitor/internal/repository/scylla"
)

// DashboardStats is the aggregate view backing the operator dashboard.
type DashboardStats struct {
	Since         time.Time      `json:"since"`
	TotalEvents   uint64         `json:"total_events"`
	FailedEvents  uint64         `json:"failed_events"`
	EventsByLevel map[string]int `json:"events_by_level"`
	OpenAlerts    int            `json:"open_alerts"`
	ClosedAlerts  int            `json:"closed_alerts"`
}

// StatsService mirrors scored evaluations into ClickHouse and answers the
// dashboard aggregate queries from there.
type StatsService struct {
	clickhouse *client.ClickHouseClient
	alertRepo  scylla.AlertRepository
	logger     *zap.Logger
}

func NewStatsService(clickhouse *client.ClickHouseClient, alertRepo scylla.AlertRepository, logger *zap.Logger) *StatsService {
	return &StatsService{
		clickhouse: clickhouse,
		alertRepo:  alertRepo,
		logger:     logger,
	}
}

// RecordEvaluation appends one scored evaluation to the analytics table.
func (s *StatsService) RecordEvaluation(ctx context.Context, event *models.SecurityEvent, result *EvaluationResult) error {
	if s.clickhouse == nil {
		return nil
	}

	success := uint8(0)
	if event.Success {
		success = 1
	}

	rows := [][]interface{}{{
		event.EventID.String(),
		event.CreatedAt,
		event.EventType,
		event.UserEmail,
		event.IPAddress,
		success,
		int32(result.RiskScore),
		result.RiskLevel,
		boolToUint8(result.BruteForceEmail),
		boolToUint8(result.ExcessiveIP),
	}}

	err := s.clickhouse.BatchInsert(ctx,
		`INSERT INTO security_event_metrics (
            event_id, created_at, event_type, user_email, ip_address,
            success, risk_score, risk_level, brute_force_email, excessive_ip
        )`, rows)
	if err != nil {
		return fmt.Errorf("failed to record evaluation: %w", err)
	}
	return nil
}

// GetDashboardStats aggregates the trailing 24 hours of scored events plus
// the current alert queue.
func (s *StatsService) GetDashboardStats(ctx context.Context) (*DashboardStats, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	stats := &DashboardStats{
		Since:         since,
		EventsByLevel: make(map[string]int),
	}

	if s.clickhouse != nil {
		rows, err := s.clickhouse.QueryRows(ctx,
			`SELECT risk_level, count() AS c
             FROM security_event_metrics
             WHERE created_at >= ?
             GROUP BY risk_level`, since)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for rows.Next() {
			var (
				level string
				count uint64
			)
			if err := rows.Scan(&level, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			stats.EventsByLevel[level] = int(count)
			stats.TotalEvents += count
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		failedRows, err := s.clickhouse.QueryRows(ctx,
			`SELECT count() FROM security_event_metrics
             WHERE created_at >= ? AND success = 0`, since)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if failedRows.Next() {
			if err := failedRows.Scan(&stats.FailedEvents); err != nil {
				failedRows.Close()
				return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}
		if err := failedRows.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	alerts, err := s.alertRepo.ListRecentAlerts(ctx, 200)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, alert := range alerts {
		if alert.Status == models.AlertStatusOpen {
			stats.OpenAlerts++
		} else {
			stats.ClosedAlerts++
		}
	}

	return stats, nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
