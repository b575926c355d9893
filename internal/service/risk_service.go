package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"soc-monitor/internal/config"
	"soc-monitor/internal/models"
	"soc-monitor/internal/repository/scylla"
	"soc-monitor/internal/util"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEventNotFound    = errors.New("security event not found")
	ErrAlertNotFound    = errors.New("security alert not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AlertDispatcher opens an alert for a High evaluation.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, in DispatchInput) (*models.SecurityAlert, error)
}

// EvaluationRecorder mirrors scored evaluations into the analytics store.
// Recording is best-effort; the evaluator logs and continues on failure.
type EvaluationRecorder interface {
	RecordEvaluation(ctx context.Context, event *models.SecurityEvent, result *EvaluationResult) error
}

// EvaluationResult is what the evaluation engine hands back to callers.
type EvaluationResult struct {
	EventID         uuid.UUID  `json:"event_id"`
	RiskScore       int        `json:"risk_score"`
	RiskLevel       string     `json:"risk_level"`
	BruteForceEmail bool       `json:"brute_force_email"`
	ExcessiveIP     bool       `json:"excessive_ip"`
	EmailFailures   int        `json:"email_failures"`
	IPFailures      int        `json:"ip_failures"`
	AccountLocked   bool       `json:"account_locked"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	AlertID         *uuid.UUID `json:"alert_id,omitempty"`
}

// IngestEventRequest creates a new, unscored security event.
type IngestEventRequest struct {
	EventType string            `json:"event_type"`
	UserEmail string            `json:"user_email,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RiskService is the event evaluation engine: it classifies an event against
// the trailing failure window, maintains the per-identity lockout profile,
// scores the event and decides whether to open an alert.
type RiskService struct {
	eventRepo   scylla.EventRepository
	historyRepo scylla.HistoryRepository
	profileRepo scylla.ProfileRepository
	dispatcher  AlertDispatcher
	recorder    EvaluationRecorder
	policy      config.RiskPolicy
	logger      *zap.Logger
	now         func() time.Time
}

func NewRiskService(
	eventRepo scylla.EventRepository,
	historyRepo scylla.HistoryRepository,
	profileRepo scylla.ProfileRepository,
	dispatcher AlertDispatcher,
	recorder EvaluationRecorder,
	policy config.RiskPolicy,
	logger *zap.Logger,
) *RiskService {
	return &RiskService{
		eventRepo:   eventRepo,
		historyRepo: historyRepo,
		profileRepo: profileRepo,
		dispatcher:  dispatcher,
		recorder:    recorder,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
	}
}

// IngestEvent persists a new security event from the login/registration
// collaborator. The event is stored unscored; evaluation is a separate call.
func (s *RiskService) IngestEvent(ctx context.Context, req *IngestEventRequest) (*models.SecurityEvent, error) {
	eventType := util.SanitizeInput(req.EventType)
	if eventType == "" {
		return nil, fmt.Errorf("%w: event_type is required", ErrInvalidInput)
	}
	if util.ContainsSuspicious(req.EventType) {
		return nil, fmt.Errorf("%w: event_type contains disallowed characters", ErrInvalidInput)
	}

	event := &models.SecurityEvent{
		EventID:   uuid.New(),
		CreatedAt: s.now().UTC(),
		EventType: eventType,
		UserEmail: util.NormalizeEmail(req.UserEmail),
		IPAddress: util.NormalizeIP(req.IPAddress),
		UserAgent: util.SanitizeInput(req.UserAgent),
		Success:   req.Success,
		Metadata:  req.Metadata,
	}

	if err := s.eventRepo.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.logger.Info("Security event ingested",
		util.String("event_id", event.EventID.String()),
		util.String("event_type", event.EventType),
		util.Bool("success", event.Success),
	)

	return event, nil
}

// Evaluate runs the engine against an already persisted event.
//
// The failure counts are inclusive of the current event: ingestion persists
// the event before evaluation is requested, so its own failure is visible to
// the window query. Re-evaluating the same event id is safe; the profile row
// is updated, not re-inserted, though concurrent evaluations for one identity
// can undercount by one (known race, resolved by substituting a serializing
// ProfileRepository).
func (s *RiskService) Evaluate(ctx context.Context, eventID uuid.UUID) (*EvaluationResult, error) {
	event, err := s.eventRepo.GetEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, scylla.ErrEventNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := s.now().UTC()
	since := now.Add(-s.policy.Window)

	var emailFailures, ipFailures int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.historyRepo.CountFailedByEmail(gctx, event.UserEmail, since)
		if err != nil {
			return err
		}
		emailFailures = n
		return nil
	})
	g.Go(func() error {
		n, err := s.historyRepo.CountFailedByIP(gctx, event.IPAddress, since)
		if err != nil {
			return err
		}
		ipFailures = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	bruteForceEmail := event.UserEmail != "" && emailFailures >= s.policy.EmailFailThreshold
	excessiveIP := event.IPAddress != "" && ipFailures >= s.policy.IPFailThreshold

	var profile *models.LoginProfile
	if event.UserEmail != "" {
		profile, err = s.upsertProfile(ctx, event, bruteForceEmail, now)
		if err != nil {
			// Profile persistence failure aborts the evaluation: the event
			// stays unscored and the caller may re-submit.
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	score := 0
	if !event.Success {
		score += s.policy.FailureWeight
	}
	if bruteForceEmail {
		score += s.policy.EmailBruteWeight
	}
	if excessiveIP {
		score += s.policy.IPBruteWeight
	}
	level := s.riskLevel(score)

	if err := s.eventRepo.UpdateEventRisk(ctx, event.EventID, score, level); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	event.RiskScore = &score
	event.RiskLevel = level

	var lockedUntil *time.Time
	if profile != nil {
		lockedUntil = profile.LockedUntil
	}
	result := &EvaluationResult{
		EventID:         event.EventID,
		RiskScore:       score,
		RiskLevel:       level,
		BruteForceEmail: bruteForceEmail,
		ExcessiveIP:     excessiveIP,
		EmailFailures:   emailFailures,
		IPFailures:      ipFailures,
		AccountLocked:   profile != nil && profile.IsLocked(now),
		LockedUntil:     lockedUntil,
	}

	if s.recorder != nil {
		if err := s.recorder.RecordEvaluation(ctx, event, result); err != nil {
			s.logger.Warn("Failed to record evaluation analytics",
				util.String("event_id", event.EventID.String()),
				util.ErrorField(err))
		}
	}

	if level == models.RiskLevelHigh && s.dispatcher != nil {
		alert, err := s.dispatcher.Dispatch(ctx, DispatchInput{
			RiskLevel:       level,
			BruteForceEmail: bruteForceEmail,
			ExcessiveIP:     excessiveIP,
			UserEmail:       event.UserEmail,
			IPAddress:       event.IPAddress,
			EmailFailures:   emailFailures,
			IPFailures:      ipFailures,
			RelatedEventID:  event.EventID,
		})
		if err != nil {
			// The evaluation already stands on its own; a failed alert write
			// is logged for operator follow-up, not propagated.
			s.logger.Error("Failed to dispatch alert",
				util.String("event_id", event.EventID.String()),
				util.ErrorField(err))
		} else if alert != nil {
			result.AlertID = &alert.AlertID
		}
	}

	s.logger.Info("Event evaluated",
		util.String("event_id", event.EventID.String()),
		util.Int("risk_score", score),
		util.String("risk_level", level),
		util.Bool("brute_force_email", bruteForceEmail),
		util.Bool("excessive_ip", excessiveIP),
	)

	return result, nil
}

// upsertProfile applies the lockout state machine and persists the profile
// before any score is computed. Returns the profile as written.
func (s *RiskService) upsertProfile(ctx context.Context, event *models.SecurityEvent, bruteForceEmail bool, now time.Time) (*models.LoginProfile, error) {
	profile, err := s.profileRepo.GetProfile(ctx, event.UserEmail)
	if err != nil && !errors.Is(err, scylla.ErrProfileNotFound) {
		return nil, err
	}

	var lockedUntil *time.Time
	if bruteForceEmail {
		expiry := now.Add(s.policy.LockDuration)
		lockedUntil = &expiry
	}

	if profile == nil || errors.Is(err, scylla.ErrProfileNotFound) {
		failedAttempts := 1
		if event.Success {
			failedAttempts = 0
		}
		fresh := &models.LoginProfile{
			UserEmail:      event.UserEmail,
			FailedAttempts: failedAttempts,
			LockedUntil:    lockedUntil,
			LastIP:         event.IPAddress,
			LastSeen:       now,
		}
		if err := s.profileRepo.InsertProfile(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}

	if event.Success {
		profile.FailedAttempts = 0
	} else {
		profile.FailedAttempts++
	}

	// A non-triggering outcome preserves an existing lock; only a fresh
	// threshold breach moves the expiry.
	if lockedUntil == nil {
		lockedUntil = profile.LockedUntil
	}
	profile.LockedUntil = lockedUntil
	profile.LastIP = event.IPAddress
	profile.LastSeen = now

	if err := s.profileRepo.UpdateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *RiskService) riskLevel(score int) string {
	switch {
	case score >= s.policy.HighScore:
		return models.RiskLevelHigh
	case score >= s.policy.MediumScore:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}
