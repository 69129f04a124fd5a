package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
)

func startRelayServer(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	s := newTestService(t)
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return s, server
}

func dialRelay(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrameOfType reads frames off conn, discarding heartbeats and any
// other types, until one of the wanted type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s frame", frameType)
		var frame map[string]any
		require.NoError(t, jsoncodec.Unmarshal(raw, &frame))
		if frame["type"] == frameType {
			return frame
		}
	}
}

func subscribe(t *testing.T, conn *websocket.Conn, eventType, auctionID string) string {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "subscribe_sds",
		"eventType": eventType,
		"auctionId": auctionID,
	}))
	confirmed := readFrameOfType(t, conn, "sds_subscription_confirmed")
	subscriptionID, _ := confirmed["subscriptionId"].(string)
	require.NotEmpty(t, subscriptionID)
	return subscriptionID
}

func TestConnectionEstablishedGreeting(t *testing.T) {
	_, server := startRelayServer(t)
	conn := dialRelay(t, server)

	frame := readFrameOfType(t, conn, "connection_established")
	assert.NotEmpty(t, frame["connectionId"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestSubscribeAndReceiveEvent(t *testing.T) {
	s, server := startRelayServer(t)
	conn := dialRelay(t, server)
	readFrameOfType(t, conn, "connection_established")

	subscribe(t, conn, "BID_PLACED", "auction-001")

	require.Eventually(t, func() bool {
		connections, subscriptions := s.Counts()
		return connections == 1 && subscriptions == 1
	}, time.Second, 10*time.Millisecond)

	env, delivered, err := s.Publish(context.Background(), "BID_PLACED", "auction-001", validBidData())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	frame := readFrameOfType(t, conn, "auction_event")
	assert.Equal(t, "BID_PLACED", frame["eventType"])
	assert.Equal(t, "auction-001", frame["auctionId"])
	assert.Equal(t, "sds_stream", frame["source"])
	data, ok := frame["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0.5", data["bidAmount"])
	assert.Equal(t, env.Timestamp, frame["timestamp"])
}

func TestAuctionScopedDelivery(t *testing.T) {
	s, server := startRelayServer(t)

	first := dialRelay(t, server)
	readFrameOfType(t, first, "connection_established")
	subscribe(t, first, "BID_PLACED", "auction-001")

	second := dialRelay(t, server)
	readFrameOfType(t, second, "connection_established")
	subscribe(t, second, "BID_PLACED", "auction-002")

	_, delivered, err := s.Publish(context.Background(), "BID_PLACED", "auction-001", validBidData())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	frame := readFrameOfType(t, first, "auction_event")
	assert.Equal(t, "auction-001", frame["auctionId"])

	// The second client's next event must be for its own auction, proving
	// the first publish skipped it.
	_, _, err = s.Publish(context.Background(), "BID_PLACED", "auction-002", validBidData())
	require.NoError(t, err)
	frame = readFrameOfType(t, second, "auction_event")
	assert.Equal(t, "auction-002", frame["auctionId"])
}

func TestWildcardSubscriptionMatchesEveryAuction(t *testing.T) {
	s, server := startRelayServer(t)
	conn := dialRelay(t, server)
	readFrameOfType(t, conn, "connection_established")
	subscribe(t, conn, "BID_PLACED", "")

	_, delivered, err := s.Publish(context.Background(), "BID_PLACED", "auction-007", validBidData())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	frame := readFrameOfType(t, conn, "auction_event")
	assert.Equal(t, "auction-007", frame["auctionId"])
}

func TestPublishOverWebSocket(t *testing.T) {
	_, server := startRelayServer(t)

	subscriber := dialRelay(t, server)
	readFrameOfType(t, subscriber, "connection_established")
	subscribe(t, subscriber, "BID_PLACED", "auction-001")

	publisher := dialRelay(t, server)
	readFrameOfType(t, publisher, "connection_established")
	require.NoError(t, publisher.WriteJSON(map[string]any{
		"type":      "publish_auction_event",
		"eventType": "BID_PLACED",
		"auctionId": "auction-001",
		"eventData": validBidData(),
	}))

	ack := readFrameOfType(t, publisher, "event_published")
	assert.Equal(t, true, ack["success"])
	assert.EqualValues(t, 1, ack["delivered"])

	frame := readFrameOfType(t, subscriber, "auction_event")
	assert.Equal(t, "auction-001", frame["auctionId"])
}

func TestUnknownFrameTypeReturnsError(t *testing.T) {
	_, server := startRelayServer(t)
	conn := dialRelay(t, server)
	readFrameOfType(t, conn, "connection_established")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus_frame"}))

	frame := readFrameOfType(t, conn, "error")
	message, _ := frame["message"].(string)
	assert.Contains(t, message, "unknown message type")
}

func TestSubscribeUnknownEventTypeReturnsError(t *testing.T) {
	_, server := startRelayServer(t)
	conn := dialRelay(t, server)
	readFrameOfType(t, conn, "connection_established")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "subscribe_sds",
		"eventType": "NOT_A_TYPE",
		"auctionId": "auction-001",
	}))

	frame := readFrameOfType(t, conn, "error")
	message, _ := frame["message"].(string)
	assert.Contains(t, message, "unknown event type")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s, server := startRelayServer(t)
	conn := dialRelay(t, server)
	readFrameOfType(t, conn, "connection_established")

	subscriptionID := subscribe(t, conn, "BID_PLACED", "auction-001")
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":           "unsubscribe_sds",
		"subscriptionId": subscriptionID,
	}))
	readFrameOfType(t, conn, "unsubscribe_confirmed")

	_, delivered, err := s.Publish(context.Background(), "BID_PLACED", "auction-001", validBidData())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	// Resubscribe to a different auction; the next event seen must be for
	// it, proving the earlier publish was never queued.
	subscribe(t, conn, "BID_PLACED", "auction-002")
	_, _, err = s.Publish(context.Background(), "BID_PLACED", "auction-002", validBidData())
	require.NoError(t, err)
	frame := readFrameOfType(t, conn, "auction_event")
	assert.Equal(t, "auction-002", frame["auctionId"])
}

func TestConnectionCleanupOnClose(t *testing.T) {
	s, server := startRelayServer(t)
	conn := dialRelay(t, server)
	readFrameOfType(t, conn, "connection_established")
	subscribe(t, conn, "BID_PLACED", "auction-001")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		connections, subscriptions := s.Counts()
		return connections == 0 && subscriptions == 0
	}, 2*time.Second, 20*time.Millisecond)
}
