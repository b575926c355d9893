package bucketing

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"soc-monitor/internal/config"
)

func newTestManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{
			EventBuckets:   100,
			ProfileBuckets: 50,
		},
	})
}

func TestBucketsAreDeterministic(t *testing.T) {
	bm := newTestManager()

	eventID := uuid.New()
	first := bm.EventBucket(eventID)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, bm.EventBucket(eventID))
	}

	profileFirst := bm.ProfileBucket("alice@example.com")
	assert.Equal(t, profileFirst, bm.ProfileBucket("alice@example.com"))
}

func TestBucketsStayInRange(t *testing.T) {
	bm := newTestManager()

	for i := 0; i < 1000; i++ {
		b := bm.EventBucket(uuid.New())
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 100)
	}
}

func TestZeroBucketsFallsBackToZero(t *testing.T) {
	bm := NewBucketingManager(&config.Config{})
	assert.Equal(t, 0, bm.EventBucket(uuid.New()))
	assert.Equal(t, 0, bm.ProfileBucket("alice@example.com"))
}

func TestDateBucketUsesUTC(t *testing.T) {
	bm := newTestManager()

	loc := time.FixedZone("UTC+5", 5*3600)
	// 02:00 on June 2 in UTC+5 is still June 1 in UTC
	local := time.Date(2025, 6, 2, 2, 0, 0, 0, loc)
	assert.Equal(t, "2025-06-01", bm.DateBucket(local))
}

func TestConcurrenthashing(t *testing.T) {
	bm := newTestManager()
	want := bm.ProfileBucket("alice@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, want, bm.ProfileBucket("alice@example.com"))
			}
		}()
	}
	wg.Wait()
}
