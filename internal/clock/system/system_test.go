package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

var _ mapindex.Clock = (*Clock)(nil)

func TestClockNowIsUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	got := New().Now()

	require.Equal(t, time.UTC, got.Location())
	require.WithinDuration(t, before, got, 2*time.Second)
}

func TestClockFeedsUnixSecondTracking(t *testing.T) {
	t.Parallel()

	now := New().Now()
	require.True(t, now.Truncate(time.Second).Equal(mapindex.UnixTime(now.Unix())))
}
