package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"soc-monitor/internal/config"
	"soc-monitor/internal/util"
)

// PreparedStatements holds the statements the repositories actually use.
// security_events is partitioned by (event_bucket, event_id); the windowed
// failure counts read from the denormalized failed_logins_by_email /
// failed_logins_by_ip tables so they stay single-partition queries.
type PreparedStatements struct {
	InsertEvent     *gocql.Query
	GetEventByID    *gocql.Query
	UpdateEventRisk *gocql.Query

	InsertFailedByEmail *gocql.Query
	InsertFailedByIP    *gocql.Query
	CountFailedByEmail  *gocql.Query
	CountFailedByIP     *gocql.Query

	GetProfile    *gocql.Query
	InsertProfile *gocql.Query
	UpdateProfile *gocql.Query

	InsertAlert      *gocql.Query
	InsertAlertByDay *gocql.Query
	GetAlertByID     *gocql.Query
	ListAlertsByDay  *gocql.Query
	CloseAlert       *gocql.Query
	CloseAlertByDay  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.InsertEvent = s.Session.Query(`
        INSERT INTO security_events (
            event_bucket, event_id, event_date, created_at, event_type,
            user_email, ip_address, user_agent, success, risk_score, risk_level, metadata
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetEventByID = s.Session.Query(`
        SELECT event_bucket, event_id, event_date, created_at, event_type,
            user_email, ip_address, user_agent, success, risk_score, risk_level, metadata
        FROM security_events WHERE event_bucket = ? AND event_id = ?`)

	prepared.UpdateEventRisk = s.Session.Query(`
        UPDATE security_events SET risk_score = ?, risk_level = ?
        WHERE event_bucket = ? AND event_id = ?`)

	prepared.InsertFailedByEmail = s.Session.Query(`
        INSERT INTO failed_logins_by_email (user_email, created_at, event_id)
        VALUES (?, ?, ?) USING TTL 86400`)

	prepared.InsertFailedByIP = s.Session.Query(`
        INSERT INTO failed_logins_by_ip (ip_address, created_at, event_id)
        VALUES (?, ?, ?) USING TTL 86400`)

	prepared.CountFailedByEmail = s.Session.Query(`
        SELECT COUNT(*) FROM failed_logins_by_email
        WHERE user_email = ? AND created_at >= ?`)

	prepared.CountFailedByIP = s.Session.Query(`
        SELECT COUNT(*) FROM failed_logins_by_ip
        WHERE ip_address = ? AND created_at >= ?`)

	prepared.GetProfile = s.Session.Query(`
        SELECT profile_bucket, user_email, failed_attempts, locked_until,
            last_ip_sealed, last_ip_key_id, last_seen
        FROM login_profiles WHERE profile_bucket = ? AND user_email = ?`)

	prepared.InsertProfile = s.Session.Query(`
        INSERT INTO login_profiles (
            profile_bucket, user_email, failed_attempts, locked_until,
            last_ip_sealed, last_ip_key_id, last_seen
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.UpdateProfile = s.Session.Query(`
        UPDATE login_profiles SET failed_attempts = ?, locked_until = ?,
            last_ip_sealed = ?, last_ip_key_id = ?, last_seen = ?
        WHERE profile_bucket = ? AND user_email = ?`)

	prepared.InsertAlert = s.Session.Query(`
        INSERT INTO security_alerts (
            alert_id, created_at, alert_type, risk_level, description, status, related_event_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.InsertAlertByDay = s.Session.Query(`
        INSERT INTO security_alerts_by_day (
            alert_date, created_at, alert_id, alert_type, risk_level, description, status, related_event_id
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetAlertByID = s.Session.Query(`
        SELECT alert_id, created_at, alert_type, risk_level, description, status, related_event_id
        FROM security_alerts WHERE alert_id = ?`)

	prepared.ListAlertsByDay = s.Session.Query(`
        SELECT alert_id, created_at, alert_type, risk_level, description, status, related_event_id
        FROM security_alerts_by_day WHERE alert_date = ? LIMIT ?`)

	prepared.CloseAlert = s.Session.Query(`
        UPDATE security_alerts SET status = ? WHERE alert_id = ?`)

	prepared.CloseAlertByDay = s.Session.Query(`
        UPDATE security_alerts_by_day SET status = ?
        WHERE alert_date = ? AND created_at = ? AND alert_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound || i == 2 {
				return err
			}
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
			continue
		}
		return nil
	}
	return lastErr
}
