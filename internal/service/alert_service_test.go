package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"soc-monitor/internal/models"
	"soc-monitor/internal/repository/scylla"
)

type stubAlertRepo struct {
	alerts    map[uuid.UUID]*models.SecurityAlert
	insertErr error
	listLimit int
}

func (r *stubAlertRepo) InsertAlert(ctx context.Context, alert *models.SecurityAlert) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if r.alerts == nil {
		r.alerts = make(map[uuid.UUID]*models.SecurityAlert)
	}
	r.alerts[alert.AlertID] = alert
	return nil
}

func (r *stubAlertRepo) GetAlertByID(ctx context.Context, alertID uuid.UUID) (*models.SecurityAlert, error) {
	alert, ok := r.alerts[alertID]
	if !ok {
		return nil, scylla.ErrAlertNotFound
	}
	copied := *alert
	return &copied, nil
}

func (r *stubAlertRepo) ListRecentAlerts(ctx context.Context, limit int) ([]*models.SecurityAlert, error) {
	r.listLimit = limit
	out := make([]*models.SecurityAlert, 0, len(r.alerts))
	for _, alert := range r.alerts {
		out = append(out, alert)
	}
	return out, nil
}

func (r *stubAlertRepo) CloseAlert(ctx context.Context, alertID uuid.UUID) error {
	alert, ok := r.alerts[alertID]
	if !ok {
		return scylla.ErrAlertNotFound
	}
	alert.Status = models.AlertStatusClosed
	return nil
}

type stubNotifier struct {
	subjects []string
	bodies   []string
	err      error
}

func (n *stubNotifier) Send(ctx context.Context, subject, body string) error {
	if n.err != nil {
		return n.err
	}
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

type stubIndexer struct {
	indexed map[string]interface{}
	err     error
}

func (i *stubIndexer) IndexAlert(ctx context.Context, alertID string, doc interface{}) error {
	if i.err != nil {
		return i.err
	}
	if i.indexed == nil {
		i.indexed = make(map[string]interface{})
	}
	i.indexed[alertID] = doc
	return nil
}

func (i *stubIndexer) SearchAlerts(ctx context.Context, query string, size int) ([]json.RawMessage, error) {
	if i.err != nil {
		return nil, i.err
	}
	return []json.RawMessage{json.RawMessage(`{"query":"` + query + `"}`)}, nil
}

type stubPublisher struct {
	keys []string
	err  error
}

func (p *stubPublisher) Publish(ctx context.Context, key string, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	return nil
}

// Optional legs are accepted as interfaces so that passing nil really means
// absent, rather than a typed-nil pointer hiding behind a non-nil interface.
func newTestAlertService(repo *stubAlertRepo, sink *stubNotifier, publisher AlertPublisher, indexer AlertIndexer) *AlertService {
	svc := NewAlertService(repo, sink, publisher, indexer, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestDispatchAccountBruteForceWinsTypeSelection(t *testing.T) {
	repo := &stubAlertRepo{}
	sink := &stubNotifier{}
	svc := newTestAlertService(repo, sink, nil, nil)

	// Both conditions set: account brute force takes precedence
	alert, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:       models.RiskLevelHigh,
		BruteForceEmail: true,
		ExcessiveIP:     true,
		UserEmail:       "alice@example.com",
		IPAddress:       "10.0.0.5",
		EmailFailures:   6,
		IPFailures:      12,
		RelatedEventID:  uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, models.AlertBruteForceAccount, alert.AlertType)
	assert.Equal(t, models.AlertStatusOpen, alert.Status)
	assert.Equal(t, "High risk login detected for alice@example.com", alert.Description)
	assert.Contains(t, repo.alerts, alert.AlertID)

	require.Len(t, sink.subjects, 1)
	assert.Contains(t, sink.subjects[0], models.AlertBruteForceAccount)
	assert.Contains(t, sink.bodies[0], "alice@example.com")
	assert.Contains(t, sink.bodies[0], "10.0.0.5")
}

func TestDispatchIPBruteForce(t *testing.T) {
	repo := &stubAlertRepo{}
	svc := newTestAlertService(repo, &stubNotifier{}, nil, nil)

	alert, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:      models.RiskLevelHigh,
		ExcessiveIP:    true,
		IPAddress:      "10.0.0.5",
		RelatedEventID: uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, models.AlertBruteForceIP, alert.AlertType)
	assert.Equal(t, "High risk login detected for unknown", alert.Description)
}

func TestDispatchGenericHighRisk(t *testing.T) {
	repo := &stubAlertRepo{}
	svc := newTestAlertService(repo, &stubNotifier{}, nil, nil)

	alert, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:      models.RiskLevelHigh,
		UserEmail:      "alice@example.com",
		RelatedEventID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AlertHighRiskLogin, alert.AlertType)
}

func TestDispatchSurvivesSideEffectFailures(t *testing.T) {
	repo := &stubAlertRepo{}
	sink := &stubNotifier{err: errors.New("smtp down")}
	publisher := &stubPublisher{err: errors.New("broker down")}
	indexer := &stubIndexer{err: errors.New("index down")}
	svc := newTestAlertService(repo, sink, publisher, indexer)

	alert, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:      models.RiskLevelHigh,
		UserEmail:      "alice@example.com",
		RelatedEventID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Contains(t, repo.alerts, alert.AlertID)
}

func TestDispatchInsertFailure(t *testing.T) {
	repo := &stubAlertRepo{insertErr: errors.New("scylla down")}
	sink := &stubNotifier{}
	svc := newTestAlertService(repo, sink, nil, nil)

	_, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:      models.RiskLevelHigh,
		RelatedEventID: uuid.New(),
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	// No alert row means no notification either
	assert.Empty(t, sink.subjects)
}

func TestDispatchWithoutOptionalSinks(t *testing.T) {
	repo := &stubAlertRepo{}
	sink := &stubNotifier{}
	svc := newTestAlertService(repo, sink, nil, nil)

	// No publisher and no indexer configured: the alert is persisted and the
	// notification sent, nothing else is attempted.
	alert, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:      models.RiskLevelHigh,
		UserEmail:      "alice@example.com",
		RelatedEventID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Contains(t, repo.alerts, alert.AlertID)
	assert.Len(t, sink.subjects, 1)
}

func TestDispatchPublishesAndIndexes(t *testing.T) {
	repo := &stubAlertRepo{}
	publisher := &stubPublisher{}
	indexer := &stubIndexer{}
	svc := newTestAlertService(repo, &stubNotifier{}, publisher, indexer)

	alert, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:      models.RiskLevelHigh,
		UserEmail:      "alice@example.com",
		RelatedEventID: uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{alert.AlertID.String()}, publisher.keys)
	assert.Contains(t, indexer.indexed, alert.AlertID.String())
}

func TestCloseAlertIsOneWay(t *testing.T) {
	repo := &stubAlertRepo{}
	svc := newTestAlertService(repo, &stubNotifier{}, nil, nil)

	alert, err := svc.Dispatch(context.Background(), DispatchInput{
		RiskLevel:      models.RiskLevelHigh,
		RelatedEventID: uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.CloseAlert(context.Background(), alert.AlertID))
	assert.Equal(t, models.AlertStatusClosed, repo.alerts[alert.AlertID].Status)

	err = svc.CloseAlert(context.Background(), alert.AlertID)
	require.ErrorIs(t, err, ErrAlertAlreadyClosed)
}

func TestCloseAlertUnknown(t *testing.T) {
	svc := newTestAlertService(&stubAlertRepo{}, &stubNotifier{}, nil, nil)
	err := svc.CloseAlert(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrAlertNotFound)
}

func TestListAlertsClampsLimit(t *testing.T) {
	repo := &stubAlertRepo{}
	svc := newTestAlertService(repo, &stubNotifier{}, nil, nil)

	_, err := svc.ListAlerts(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 50, repo.listLimit)

	_, err = svc.ListAlerts(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 50, repo.listLimit)

	_, err = svc.ListAlerts(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, 25, repo.listLimit)
}

func TestSearchAlertsRequiresIndexer(t *testing.T) {
	svc := newTestAlertService(&stubAlertRepo{}, &stubNotifier{}, nil, nil)
	_, err := svc.SearchAlerts(context.Background(), "brute", 10)
	require.Error(t, err)
}

func TestBuildAlertBodyFallbacks(t *testing.T) {
	alert := &models.SecurityAlert{
		AlertType:   models.AlertHighRiskLogin,
		RiskLevel:   models.RiskLevelHigh,
		Description: "High risk login detected for unknown",
		CreatedAt:   testNow,
	}
	body := BuildAlertBody(alert, DispatchInput{EmailFailures: 2, IPFailures: 3})

	assert.Contains(t, body, "User: Unknown")
	assert.Contains(t, body, "IP Address: Unknown")
	assert.Contains(t, body, "Failed Attempts (Email): 2")
	assert.Contains(t, body, "Failed Attempts (IP): 3")
	assert.Contains(t, body, "SOC Monitoring System")
}
