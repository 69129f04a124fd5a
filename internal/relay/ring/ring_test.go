package ring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/bidrelay/internal/relay/wire"
)

func testEnvelope(n int) wire.Envelope {
	return wire.NewEnvelope("BID_PLACED", fmt.Sprintf("auction-%03d", n), map[string]any{"seq": n}, time.Unix(int64(n), 0))
}

func TestEmptyBuffer(t *testing.T) {
	buf := NewBuffer(4)

	assert.Equal(t, 0, buf.Len())
	assert.Empty(t, buf.Snapshot())

	_, ok := buf.Newest()
	assert.False(t, ok)
}

func TestAppendBelowCapacity(t *testing.T) {
	buf := NewBuffer(4)
	for i := 0; i < 3; i++ {
		buf.Append(testEnvelope(i))
	}

	snap := buf.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "auction-000", snap[0].AuctionID)
	assert.Equal(t, "auction-002", snap[2].AuctionID)

	newest, ok := buf.Newest()
	require.True(t, ok)
	assert.Equal(t, "auction-002", newest.AuctionID)
}

func TestAppendEvictsOldest(t *testing.T) {
	buf := NewBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Append(testEnvelope(i))
	}

	snap := buf.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "auction-002", snap[0].AuctionID)
	assert.Equal(t, "auction-003", snap[1].AuctionID)
	assert.Equal(t, "auction-004", snap[2].AuctionID)
	assert.Equal(t, 3, buf.Len())
}

func TestZeroCapacityFallsBackToDefault(t *testing.T) {
	buf := NewBuffer(0)
	for i := 0; i < DefaultCapacity+5; i++ {
		buf.Append(testEnvelope(i))
	}
	assert.Equal(t, DefaultCapacity, buf.Len())

	snap := buf.Snapshot()
	assert.Equal(t, "auction-005", snap[0].AuctionID)
}
