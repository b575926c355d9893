package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"soc-monitor/internal/config"
	"soc-monitor/internal/models"
	"soc-monitor/internal/repository/scylla"
)

type stubEventRepo struct {
	events    map[uuid.UUID]*models.SecurityEvent
	insertErr error
	updateErr error

	updatedID    *uuid.UUID
	updatedScore int
	updatedLevel string
}

func (r *stubEventRepo) InsertEvent(ctx context.Context, event *models.SecurityEvent) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if r.events == nil {
		r.events = make(map[uuid.UUID]*models.SecurityEvent)
	}
	r.events[event.EventID] = event
	return nil
}

func (r *stubEventRepo) GetEventByID(ctx context.Context, eventID uuid.UUID) (*models.SecurityEvent, error) {
	event, ok := r.events[eventID]
	if !ok {
		return nil, scylla.ErrEventNotFound
	}
	copied := *event
	return &copied, nil
}

func (r *stubEventRepo) UpdateEventRisk(ctx context.Context, eventID uuid.UUID, score int, level string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updatedID = &eventID
	r.updatedScore = score
	r.updatedLevel = level
	return nil
}

type stubHistoryRepo struct {
	emailCount int
	ipCount    int
	err        error

	emailSince time.Time
	ipSince    time.Time
}

func (r *stubHistoryRepo) CountFailedByEmail(ctx context.Context, email string, since time.Time) (int, error) {
	r.emailSince = since
	if email == "" {
		return 0, nil
	}
	return r.emailCount, r.err
}

func (r *stubHistoryRepo) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	r.ipSince = since
	if ip == "" {
		return 0, nil
	}
	return r.ipCount, r.err
}

type stubProfileRepo struct {
	profiles  map[string]*models.LoginProfile
	getErr    error
	insertErr error
	updateErr error

	inserted *models.LoginProfile
	updated  *models.LoginProfile
}

func (r *stubProfileRepo) GetProfile(ctx context.Context, email string) (*models.LoginProfile, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	profile, ok := r.profiles[email]
	if !ok {
		return nil, scylla.ErrProfileNotFound
	}
	copied := *profile
	return &copied, nil
}

func (r *stubProfileRepo) InsertProfile(ctx context.Context, profile *models.LoginProfile) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = profile
	return nil
}

func (r *stubProfileRepo) UpdateProfile(ctx context.Context, profile *models.LoginProfile) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updated = profile
	return nil
}

type stubDispatcher struct {
	calls []DispatchInput
	alert *models.SecurityAlert
	err   error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, in DispatchInput) (*models.SecurityAlert, error) {
	d.calls = append(d.calls, in)
	if d.err != nil {
		return nil, d.err
	}
	if d.alert == nil {
		d.alert = &models.SecurityAlert{AlertID: uuid.New()}
	}
	return d.alert, nil
}

func testPolicy() config.RiskPolicy {
	return config.RiskPolicy{
		Window:             5 * time.Minute,
		EmailFailThreshold: 5,
		IPFailThreshold:    10,
		LockDuration:       10 * time.Minute,
		FailureWeight:      10,
		EmailBruteWeight:   80,
		IPBruteWeight:      70,
		HighScore:          70,
		MediumScore:        35,
	}
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRiskService(events *stubEventRepo, history *stubHistoryRepo, profiles *stubProfileRepo, dispatcher *stubDispatcher) *RiskService {
	svc := NewRiskService(events, history, profiles, dispatcher, nil, testPolicy(), zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func storedFailedLogin(events *stubEventRepo, email, ip string) uuid.UUID {
	event := &models.SecurityEvent{
		EventID:   uuid.New(),
		CreatedAt: testNow.Add(-time.Second),
		EventType: models.EventLoginFailed,
		UserEmail: email,
		IPAddress: ip,
		Success:   false,
	}
	if events.events == nil {
		events.events = make(map[uuid.UUID]*models.SecurityEvent)
	}
	events.events[event.EventID] = event
	return event.EventID
}

func TestEvaluateSingleFailureIsLowRisk(t *testing.T) {
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 1, ipCount: 1}
	profiles := &stubProfileRepo{}
	dispatcher := &stubDispatcher{}
	svc := newTestRiskService(events, history, profiles, dispatcher)

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	result, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)

	assert.Equal(t, 10, result.RiskScore)
	assert.Equal(t, models.RiskLevelLow, result.RiskLevel)
	assert.False(t, result.BruteForceEmail)
	assert.False(t, result.ExcessiveIP)
	assert.False(t, result.AccountLocked)
	assert.Nil(t, result.LockedUntil)
	assert.Nil(t, result.AlertID)
	assert.Empty(t, dispatcher.calls)

	require.NotNil(t, profiles.inserted)
	assert.Equal(t, 1, profiles.inserted.FailedAttempts)
	assert.Nil(t, profiles.inserted.LockedUntil)

	require.NotNil(t, events.updatedID)
	assert.Equal(t, 10, events.updatedScore)
	assert.Equal(t, models.RiskLevelLow, events.updatedLevel)
}

func TestEvaluateUsesTrailingWindow(t *testing.T) {
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 1, ipCount: 1}
	svc := newTestRiskService(events, history, &stubProfileRepo{}, &stubDispatcher{})

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	_, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)

	want := testNow.Add(-5 * time.Minute)
	assert.Equal(t, want, history.emailSince)
	assert.Equal(t, want, history.ipSince)
}

func TestEvaluateAccountBruteForce(t *testing.T) {
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 5, ipCount: 5}
	profiles := &stubProfileRepo{}
	dispatcher := &stubDispatcher{}
	svc := newTestRiskService(events, history, profiles, dispatcher)

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	result, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)

	assert.Equal(t, 90, result.RiskScore)
	assert.Equal(t, models.RiskLevelHigh, result.RiskLevel)
	assert.True(t, result.BruteForceEmail)
	assert.False(t, result.ExcessiveIP)

	assert.True(t, result.AccountLocked)
	require.NotNil(t, result.LockedUntil)
	assert.Equal(t, testNow.Add(10*time.Minute), *result.LockedUntil)
	require.NotNil(t, profiles.inserted)
	require.NotNil(t, profiles.inserted.LockedUntil)

	require.Len(t, dispatcher.calls, 1)
	assert.True(t, dispatcher.calls[0].BruteForceEmail)
	assert.Equal(t, 5, dispatcher.calls[0].EmailFailures)
	require.NotNil(t, result.AlertID)
	assert.Equal(t, dispatcher.alert.AlertID, *result.AlertID)
}

func TestEvaluateIPBruteForce(t *testing.T) {
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 1, ipCount: 10}
	profiles := &stubProfileRepo{}
	dispatcher := &stubDispatcher{}
	svc := newTestRiskService(events, history, profiles, dispatcher)

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	result, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)

	assert.Equal(t, 80, result.RiskScore)
	assert.Equal(t, models.RiskLevelHigh, result.RiskLevel)
	assert.False(t, result.BruteForceEmail)
	assert.True(t, result.ExcessiveIP)

	// IP pressure alone does not lock the account
	assert.False(t, result.AccountLocked)
	assert.Nil(t, result.LockedUntil)
	require.NotNil(t, profiles.inserted)
	assert.Nil(t, profiles.inserted.LockedUntil)

	require.Len(t, dispatcher.calls, 1)
	assert.True(t, dispatcher.calls[0].ExcessiveIP)
}

func TestEvaluateSuccessResetsFailureCounter(t *testing.T) {
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 3, ipCount: 3}
	profiles := &stubProfileRepo{profiles: map[string]*models.LoginProfile{
		"alice@example.com": {UserEmail: "alice@example.com", FailedAttempts: 3},
	}}
	svc := newTestRiskService(events, history, profiles, &stubDispatcher{})

	event := &models.SecurityEvent{
		EventID:   uuid.New(),
		EventType: models.EventLoginSuccess,
		UserEmail: "alice@example.com",
		IPAddress: "10.0.0.5",
		Success:   true,
	}
	events.events = map[uuid.UUID]*models.SecurityEvent{event.EventID: event}

	result, err := svc.Evaluate(context.Background(), event.EventID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.RiskScore)
	assert.Equal(t, models.RiskLevelLow, result.RiskLevel)

	require.NotNil(t, profiles.updated)
	assert.Equal(t, 0, profiles.updated.FailedAttempts)
	assert.Equal(t, "10.0.0.5", profiles.updated.LastIP)
}

func TestEvaluatePreservesExistingLock(t *testing.T) {
	existingLock := testNow.Add(3 * time.Minute)
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 1, ipCount: 1}
	profiles := &stubProfileRepo{profiles: map[string]*models.LoginProfile{
		"alice@example.com": {
			UserEmail:      "alice@example.com",
			FailedAttempts: 5,
			LockedUntil:    &existingLock,
		},
	}}
	svc := newTestRiskService(events, history, profiles, &stubDispatcher{})

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	result, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)

	assert.True(t, result.AccountLocked)
	require.NotNil(t, result.LockedUntil)
	assert.Equal(t, existingLock, *result.LockedUntil)
	require.NotNil(t, profiles.updated)
	require.NotNil(t, profiles.updated.LockedUntil)
	assert.Equal(t, existingLock, *profiles.updated.LockedUntil)
	assert.Equal(t, 6, profiles.updated.FailedAttempts)
}

func TestEvaluateExpiredLockIsNotLocked(t *testing.T) {
	expiredLock := testNow.Add(-time.Minute)
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 1, ipCount: 1}
	profiles := &stubProfileRepo{profiles: map[string]*models.LoginProfile{
		"alice@example.com": {
			UserEmail:      "alice@example.com",
			FailedAttempts: 5,
			LockedUntil:    &expiredLock,
		},
	}}
	svc := newTestRiskService(events, history, profiles, &stubDispatcher{})

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	result, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)

	// The stale expiry is preserved on the row but no longer counts as locked
	assert.False(t, result.AccountLocked)
	require.NotNil(t, result.LockedUntil)
	assert.Equal(t, expiredLock, *result.LockedUntil)
}

func TestEvaluateAnonymousEventSkipsProfile(t *testing.T) {
	events := &stubEventRepo{}
	// Heavy counts that would trip thresholds if an identity were present
	history := &stubHistoryRepo{emailCount: 50, ipCount: 5}
	profiles := &stubProfileRepo{}
	dispatcher := &stubDispatcher{}
	svc := newTestRiskService(events, history, profiles, dispatcher)

	eventID := storedFailedLogin(events, "", "10.0.0.5")

	result, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)

	assert.Equal(t, 10, result.RiskScore)
	assert.False(t, result.BruteForceEmail)
	assert.False(t, result.AccountLocked)
	assert.Equal(t, 0, result.EmailFailures)
	assert.Nil(t, profiles.inserted)
	assert.Nil(t, profiles.updated)
	assert.Empty(t, dispatcher.calls)
}

func TestEvaluateUnknownEvent(t *testing.T) {
	events := &stubEventRepo{}
	profiles := &stubProfileRepo{}
	svc := newTestRiskService(events, &stubHistoryRepo{}, profiles, &stubDispatcher{})

	_, err := svc.Evaluate(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrEventNotFound)
	assert.Nil(t, profiles.inserted)
	assert.Nil(t, events.updatedID)
}

func TestEvaluateProfileWriteFailureAborts(t *testing.T) {
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 1, ipCount: 1}
	profiles := &stubProfileRepo{insertErr: context.DeadlineExceeded}
	svc := newTestRiskService(events, history, profiles, &stubDispatcher{})

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	_, err := svc.Evaluate(context.Background(), eventID)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	// The event must stay unscored so the caller can re-submit
	assert.Nil(t, events.updatedID)
}

func TestEvaluateDispatchFailureDoesNotFailEvaluation(t *testing.T) {
	events := &stubEventRepo{}
	history := &stubHistoryRepo{emailCount: 5, ipCount: 1}
	dispatcher := &stubDispatcher{err: context.DeadlineExceeded}
	svc := newTestRiskService(events, history, &stubProfileRepo{}, dispatcher)

	eventID := storedFailedLogin(events, "alice@example.com", "10.0.0.5")

	result, err := svc.Evaluate(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, models.RiskLevelHigh, result.RiskLevel)
	assert.Nil(t, result.AlertID)
}

func TestRiskLevelBoundaries(t *testing.T) {
	svc := newTestRiskService(&stubEventRepo{}, &stubHistoryRepo{}, &stubProfileRepo{}, nil)

	tests := []struct {
		score int
		level string
	}{
		{0, models.RiskLevelLow},
		{34, models.RiskLevelLow},
		{35, models.RiskLevelMedium},
		{69, models.RiskLevelMedium},
		{70, models.RiskLevelHigh},
		{160, models.RiskLevelHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, svc.riskLevel(tt.score), "score %d", tt.score)
	}
}

func TestIngestEventValidation(t *testing.T) {
	events := &stubEventRepo{}
	svc := newTestRiskService(events, &stubHistoryRepo{}, &stubProfileRepo{}, nil)

	_, err := svc.IngestEvent(context.Background(), &IngestEventRequest{EventType: ""})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.IngestEvent(context.Background(), &IngestEventRequest{EventType: "login<script>"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestIngestEventNormalizesInput(t *testing.T) {
	events := &stubEventRepo{}
	svc := newTestRiskService(events, &stubHistoryRepo{}, &stubProfileRepo{}, nil)

	event, err := svc.IngestEvent(context.Background(), &IngestEventRequest{
		EventType: models.EventLoginFailed,
		UserEmail: "  Alice@Example.COM ",
		IPAddress: "10.0.0.5",
		Success:   false,
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", event.UserEmail)
	assert.Equal(t, "10.0.0.5", event.IPAddress)
	assert.Equal(t, testNow, event.CreatedAt)
	assert.Nil(t, event.RiskScore)
	assert.Contains(t, events.events, event.EventID)
}
