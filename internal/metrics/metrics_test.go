package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEvent(t *testing.T) {
	before := testutil.ToFloat64(RoomEvents.WithLabelValues("survey", "ok"))
	RecordEvent("survey", "ok")
	RecordEvent("survey", "ok")
	assert.Equal(t, before+2, testutil.ToFloat64(RoomEvents.WithLabelValues("survey", "ok")))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(EnrichmentCache.WithLabelValues("hit"))
	misses := testutil.ToFloat64(EnrichmentCache.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	assert.Equal(t, hits+1, testutil.ToFloat64(EnrichmentCache.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(EnrichmentCache.WithLabelValues("miss")))
}

func TestRecordVotingCompleted(t *testing.T) {
	before := testutil.ToFloat64(VotingCompleted.WithLabelValues("no_winner"))
	RecordVotingCompleted(false)
	assert.Equal(t, before+1, testutil.ToFloat64(VotingCompleted.WithLabelValues("no_winner")))
}

func TestRecordFeed(t *testing.T) {
	RecordFeed("initial", 15*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(FeedDuration))
}
