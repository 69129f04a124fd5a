package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.SetSubscriptions(3)
	c.EventPublished("BID_PLACED", 2)
	c.EventPublished("BID_PLACED", 1)
	c.DeliveryFailed()
	c.ValidationFailed("schema_mismatch")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connectionsActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.subscriptionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsPublished.WithLabelValues("BID_PLACED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveryFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.validationFailures.WithLabelValues("schema_mismatch")))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.EventPublished("AUCTION_STARTED", 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bidrelay_relay_events_published_total")
}

func TestIndependentRegistries(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.ConnectionOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.connectionsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.connectionsActive))
}
