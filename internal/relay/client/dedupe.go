package client

import (
	"fmt"
	"sync"

	"github.com/drblury/bidrelay/internal/relay/wire"
)

// defaultDedupeWindow bounds how many recent bid fingerprints are kept.
const defaultDedupeWindow = 50

// bidDeduper drops bids the client already saw. The relay may hand the
// same bid to a client twice around a reconnect, so duplicates are
// detected by value, not by delivery.
type bidDeduper struct {
	mu     sync.Mutex
	window int
	order  []string
	seenBy map[string]struct{}
}

func newBidDeduper(window int) *bidDeduper {
	if window <= 0 {
		window = defaultDedupeWindow
	}
	return &bidDeduper{
		window: window,
		seenBy: make(map[string]struct{}, window),
	}
}

// seen records the bid's fingerprint and reports whether it was already
// present. The oldest fingerprint is evicted once the window is full.
func (d *bidDeduper) seen(env wire.Envelope) bool {
	key := bidFingerprint(env)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seenBy[key]; ok {
		return true
	}
	d.seenBy[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > d.window {
		delete(d.seenBy, d.order[0])
		d.order = d.order[1:]
	}
	return false
}

// bidFingerprint identifies a bid by its content. The envelope timestamp
// is excluded: a redelivered bid gets a fresh relay timestamp but is still
// the same bid.
func bidFingerprint(env wire.Envelope) string {
	return fmt.Sprintf("%s|%v|%v|%v",
		env.AuctionID,
		env.Data["bidder"],
		env.Data["bidAmount"],
		env.Data["txHash"],
	)
}
