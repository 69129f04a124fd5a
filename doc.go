// Package bidrelay is a real-time relay for NFT auction events. It validates
// published events against a fixed schema catalogue, wraps them in a
// canonical envelope stamped with the relay's clock, and fans them out to
// WebSocket subscribers filtered by event type and auction.
//
// The relay keeps one in-process delivery topic per connection, so frames
// for a connection always arrive in publish order and a slow or broken
// connection never stalls the others. A liveness monitor pings every
// connection and tears down the ones that stop answering; the bundled
// client reconnects with exponential backoff and replays its subscriptions
// after every reconnect.
//
// # Event types
//
// The default catalogue carries four auction event types:
//   - BID_PLACED: bidder, bidAmount, txHash, timestamp
//   - AUCTION_STARTED: seller, startingPrice, endTime, timestamp
//   - AUCTION_ENDED: winner, finalPrice, timestamp
//   - NFT_MINTED: tokenId, owner, tokenURI, timestamp
//
// Event data must match the schema's field set exactly; extra or missing
// fields reject the publish before anything is broadcast. The catalogue is
// closed at startup, with no dynamic registration.
//
// # Surfaces
//
// Events can be published over the WebSocket session itself or over plain
// HTTP via POST /publish-event. GET /status, /schemas, /events/recent, and
// /health expose the relay's state; /metrics serves Prometheus collectors
// when enabled.
//
// A minimal setup fills Config, creates a Service with TryNewService, and
// calls Run; see README.md for a copy/paste quick start snippet.
package bidrelay
