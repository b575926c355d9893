package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"soc-monitor/internal/bucketing"
	"soc-monitor/internal/encryption"
	"soc-monitor/internal/models"
	"soc-monitor/internal/util"
)

// profileRepository stores per-identity lockout profiles. The last-seen
// origin address is sealed at rest through the encryption manager.
type profileRepository struct {
	client        *ScyllaClient
	bucketingMgr  *bucketing.BucketingManager
	encryptionMgr *encryption.EncryptionManager
}

func NewProfileRepository(
	client *ScyllaClient,
	bucketingMgr *bucketing.BucketingManager,
	encryptionMgr *encryption.EncryptionManager,
	logger *zap.Logger,
) ProfileRepository {
	return &profileRepository{
		client:        client,
		bucketingMgr:  bucketingMgr,
		encryptionMgr: encryptionMgr,
	}
}

func (r *profileRepository) GetProfile(ctx context.Context, email string) (*models.LoginProfile, error) {
	profile := &models.LoginProfile{}
	bucket := r.bucketingMgr.ProfileBucket(email)

	var lockedUntil *time.Time

	query := r.client.Prepared.GetProfile.Bind(bucket, email).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&profile.ProfileBucket, &profile.UserEmail, &profile.FailedAttempts,
		&lockedUntil, &profile.LastIPSealed, &profile.LastIPKeyID, &profile.LastSeen)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrProfileNotFound
		}
		util.Error("Failed to get login profile",
			zap.String("user_email", email),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get login profile: %w", err)
	}

	profile.LockedUntil = lockedUntil

	if len(profile.LastIPSealed) > 0 {
		lastIP, err := r.encryptionMgr.Open(ctx, profile.LastIPSealed)
		if err != nil {
			// A profile we cannot unseal is still usable for lockout logic;
			// the origin just stays opaque.
			util.Warn("Failed to unseal profile origin address",
				zap.String("user_email", email),
				zap.Error(err))
		} else {
			profile.LastIP = lastIP
		}
	}

	return profile, nil
}

func (r *profileRepository) InsertProfile(ctx context.Context, profile *models.LoginProfile) error {
	profile.ProfileBucket = r.bucketingMgr.ProfileBucket(profile.UserEmail)

	if err := r.sealLastIP(ctx, profile); err != nil {
		return err
	}

	query := r.client.Prepared.InsertProfile.Bind(
		profile.ProfileBucket, profile.UserEmail, profile.FailedAttempts,
		profile.LockedUntil, profile.LastIPSealed, profile.LastIPKeyID, profile.LastSeen,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert login profile",
			zap.String("user_email", profile.UserEmail),
			zap.Error(err))
		return fmt.Errorf("failed to insert login profile: %w", err)
	}

	util.Debug("Login profile created",
		zap.String("user_email", profile.UserEmail),
		zap.Int("failed_attempts", profile.FailedAttempts))

	return nil
}

func (r *profileRepository) UpdateProfile(ctx context.Context, profile *models.LoginProfile) error {
	bucket := r.bucketingMgr.ProfileBucket(profile.UserEmail)

	if err := r.sealLastIP(ctx, profile); err != nil {
		return err
	}

	query := r.client.Prepared.UpdateProfile.Bind(
		profile.FailedAttempts, profile.LockedUntil,
		profile.LastIPSealed, profile.LastIPKeyID, profile.LastSeen,
		bucket, profile.UserEmail,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to update login profile",
			zap.String("user_email", profile.UserEmail),
			zap.Error(err))
		return fmt.Errorf("failed to update login profile: %w", err)
	}

	return nil
}

func (r *profileRepository) sealLastIP(ctx context.Context, profile *models.LoginProfile) error {
	if profile.LastIP == "" {
		return nil
	}
	sealed, keyID, err := r.encryptionMgr.Seal(ctx, profile.LastIP)
	if err != nil {
		return fmt.Errorf("failed to seal profile origin address: %w", err)
	}
	profile.LastIPSealed = sealed
	profile.LastIPKeyID = keyID
	return nil
}
