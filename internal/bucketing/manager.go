package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"

	"soc-monitor/internal/config"
)

// BucketingManager assigns deterministic partition buckets so event and
// profile rows spread evenly across the cluster. The same identifier always
// lands in the same bucket, which is what makes get-by-id and get-by-email
// single-partition reads.
type BucketingManager struct {
	eventBuckets   int
	profileBuckets int
	hasherPool     sync.Pool
	config         *config.Config
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		eventBuckets:   cfg.Bucketing.EventBuckets,
		profileBuckets: cfg.Bucketing.ProfileBuckets,
		config:         cfg,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// EventBucket returns the partition bucket for a security event id.
func (bm *BucketingManager) EventBucket(eventID uuid.UUID) int {
	return bm.getBucket(eventID.String(), bm.eventBuckets)
}

// ProfileBucket returns the partition bucket for a subject identity.
func (bm *BucketingManager) ProfileBucket(email string) int {
	return bm.getBucket(email, bm.profileBuckets)
}

// TimeBucket returns the start of the fixed window containing now.
func (bm *BucketingManager) TimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// DateBucket returns the UTC date partition for day-keyed tables.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(identifier string, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(identifier))

	return int(hasher.Sum64() % uint64(buckets))
}
