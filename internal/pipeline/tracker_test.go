package pipeline

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ClaimIsExclusive(t *testing.T) {
	tr := NewTracker(0)

	assert.True(t, tr.Claim("m1"), "fresh id must be claimable")
	assert.False(t, tr.Claim("m1"), "claimed id must not be claimable again")

	tr.Complete("m1")
	assert.False(t, tr.Claim("m1"), "processed id must not be claimable")
}

func TestTracker_FailAllowsRetry(t *testing.T) {
	tr := NewTracker(0)

	assert.True(t, tr.Claim("m1"))
	tr.Fail("m1")
	assert.True(t, tr.Claim("m1"), "failed id must be reclaimable")
}

func TestTracker_ClaimOnceUnderConcurrency(t *testing.T) {
	tr := NewTracker(0)

	const attempts = 50
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Claim("same-message") {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one attempt may claim a message")
}

func TestTracker_EvictsOldestHalf(t *testing.T) {
	tr := NewTracker(10)

	for i := 0; i < 11; i++ {
		id := fmt.Sprintf("m%d", i)
		assert.True(t, tr.Claim(id))
		tr.Complete(id)
	}

	// The oldest entries were evicted from processed, so they can be
	// claimed again; the newest cannot.
	assert.True(t, tr.Claim("m0"), "evicted id should be claimable")
	assert.False(t, tr.Claim("m10"), "recent id should still be tracked")
}

func TestTracker_FailedClaimsDoNotCountAgainstCapacity(t *testing.T) {
	tr := NewTracker(4)

	// Repeated claim/fail cycles must not accumulate in the eviction
	// order; otherwise a later live claim gets evicted early.
	for i := 0; i < 3; i++ {
		require.True(t, tr.Claim("m"))
		tr.Fail("m")
	}

	require.True(t, tr.Claim("m"))
	require.True(t, tr.Claim("other"))
	assert.False(t, tr.Claim("m"), "live claim must survive unrelated claims")
}

func TestTracker_CompletedClaimsLeaveProcessingOrder(t *testing.T) {
	tr := NewTracker(4)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("done%d", i)
		require.True(t, tr.Claim(id))
		tr.Complete(id)
	}

	// The processing order is empty again, so a fresh claim does not
	// trigger eviction of anything live.
	require.True(t, tr.Claim("live"))
	require.True(t, tr.Claim("next"))
	assert.False(t, tr.Claim("live"))
}
