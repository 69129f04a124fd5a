// Package registry tracks every live connection and its subscriptions. The
// registry is the sole owner of connection records: no other component
// holds a reference to the underlying socket, and all outbound frames for a
// connection flow through its per-connection topic so delivery order per
// connection matches publish completion order.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/bidrelay/internal/relay/errors"
	"github.com/drblury/bidrelay/internal/relay/ids"
	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
	"github.com/drblury/bidrelay/internal/relay/logging"
	"github.com/drblury/bidrelay/internal/relay/schema"
	"github.com/drblury/bidrelay/internal/relay/wire"
)

// ConnTopic is the per-connection topic on the in-process pub/sub fabric.
func ConnTopic(connectionID string) string {
	return "conn." + connectionID
}

// Sink receives the outbound frames of one connection, in order. The
// WebSocket layer implements it over the real socket; tests use an
// in-memory collector.
type Sink interface {
	WriteFrame(payload []byte) error
}

// SchemaChecker validates event types on subscribe. Satisfied by
// schema.Registry.
type SchemaChecker interface {
	Lookup(eventType string) (schema.Descriptor, error)
}

// Subscription records one connection's interest in an event type. An
// empty AuctionID is a wildcard matching every auction.
type Subscription struct {
	ID           string
	ConnectionID string
	EventType    string
	AuctionID    string
	CreatedAt    time.Time
}

func (s *Subscription) matches(eventType, auctionID string) bool {
	if s.EventType != eventType {
		return false
	}
	return s.AuctionID == "" || s.AuctionID == auctionID
}

type connectionRecord struct {
	id            string
	cancel        context.CancelFunc
	subscriptions map[string]*Subscription
	registeredAt  time.Time
}

// Registry is the connection and subscription store. A single mutex guards
// the maps; no lock is ever held across socket I/O because delivery hands
// frames to the buffered per-connection topic instead of writing directly.
type Registry struct {
	logger     logging.ServiceLogger
	publisher  message.Publisher
	subscriber message.Subscriber
	schemas    SchemaChecker
	now        func() time.Time

	mu    sync.Mutex
	conns map[string]*connectionRecord
	order []string
	subs  map[string]*Subscription
}

// New creates an empty registry on top of the provided pub/sub fabric.
func New(publisher message.Publisher, subscriber message.Subscriber, schemas SchemaChecker, logger logging.ServiceLogger) *Registry {
	return &Registry{
		logger:     logger,
		publisher:  publisher,
		subscriber: subscriber,
		schemas:    schemas,
		now:        time.Now,
		conns:      make(map[string]*connectionRecord),
		subs:       make(map[string]*Subscription),
	}
}

// Register adds a connection, starts its writer pump, and greets it with a
// connection_established frame. The returned id identifies the connection
// in every other registry call.
func (r *Registry) Register(ctx context.Context, sink Sink) (string, error) {
	if sink == nil {
		return "", errspkg.ErrSinkRequired
	}

	connectionID := ids.CreateULID()
	pumpCtx, cancel := context.WithCancel(ctx)

	frames, err := r.subscriber.Subscribe(pumpCtx, ConnTopic(connectionID))
	if err != nil {
		cancel()
		return "", err
	}

	record := &connectionRecord{
		id:            connectionID,
		cancel:        cancel,
		subscriptions: make(map[string]*Subscription),
		registeredAt:  r.now(),
	}

	r.mu.Lock()
	r.conns[connectionID] = record
	r.order = append(r.order, connectionID)
	r.mu.Unlock()

	go r.pump(connectionID, sink, frames)

	r.sendFrame(connectionID, wire.ConnectionEstablished{
		Type:         wire.TypeConnectionEstablished,
		ConnectionID: connectionID,
		Message:      "Connected to auction event relay",
		Timestamp:    wire.Stamp(r.now()),
	})

	r.logger.Info("Connection registered", logging.LogFields{"connection_id": connectionID})
	return connectionID, nil
}

// pump copies frames from the connection's topic to its sink. Write
// failures are logged, never propagated: the liveness monitor or the read
// loop will tear the connection down.
func (r *Registry) pump(connectionID string, sink Sink, frames <-chan *message.Message) {
	for msg := range frames {
		if err := sink.WriteFrame(msg.Payload); err != nil {
			r.logger.Error("Outbound write failed", err, logging.LogFields{
				"connection_id": connectionID,
			})
		}
		msg.Ack()
	}
	r.logger.Debug("Writer pump stopped", logging.LogFields{"connection_id": connectionID})
}

// Subscribe validates the event type and stores a subscription for the
// connection, confirming it to that connection only.
func (r *Registry) Subscribe(connectionID, eventType, auctionID string) (string, error) {
	if _, err := r.schemas.Lookup(eventType); err != nil {
		return "", err
	}

	sub := &Subscription{
		ID:           ids.CreateULID(),
		ConnectionID: connectionID,
		EventType:    eventType,
		AuctionID:    auctionID,
		CreatedAt:    r.now(),
	}

	r.mu.Lock()
	record, ok := r.conns[connectionID]
	if !ok {
		r.mu.Unlock()
		return "", errspkg.ErrConnectionNotFound
	}
	record.subscriptions[sub.ID] = sub
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	r.sendFrame(connectionID, wire.SubscriptionConfirmed{
		Type:           wire.TypeSubscriptionConfirmed,
		SubscriptionID: sub.ID,
		EventType:      eventType,
		AuctionID:      auctionID,
		Timestamp:      wire.Stamp(r.now()),
	})

	r.logger.Info("Subscription created", logging.LogFields{
		"connection_id":   connectionID,
		"subscription_id": sub.ID,
		"event_type":      eventType,
		"auction_id":      auctionID,
	})
	return sub.ID, nil
}

// Unsubscribe removes a subscription. Removing an unknown or already
// removed id is a no-op.
func (r *Registry) Unsubscribe(subscriptionID string) {
	r.mu.Lock()
	sub, ok := r.subs[subscriptionID]
	if ok {
		delete(r.subs, subscriptionID)
		if record, live := r.conns[sub.ConnectionID]; live {
			delete(record.subscriptions, subscriptionID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("Subscription removed", logging.LogFields{"subscription_id": subscriptionID})
	}
}

// Matching returns the connections holding a subscription for the event,
// in registration order. Wildcard subscriptions (empty auction id) match
// every auction.
func (r *Registry) Matching(eventType, auctionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]string, 0, len(r.order))
	for _, connectionID := range r.order {
		record := r.conns[connectionID]
		for _, sub := range record.subscriptions {
			if sub.matches(eventType, auctionID) {
				matched = append(matched, connectionID)
				break
			}
		}
	}
	return matched
}

// Remove deletes the connection record and every subscription it holds,
// and stops its writer pump. Removing an unknown id is a no-op.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	record, ok := r.conns[connectionID]
	if ok {
		for subscriptionID := range record.subscriptions {
			delete(r.subs, subscriptionID)
		}
		delete(r.conns, connectionID)
		for i, id := range r.order {
			if id == connectionID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		record.cancel()
		r.logger.Info("Connection removed", logging.LogFields{"connection_id": connectionID})
	}
}

// Deliver publishes a frame to the connection's topic. Stale ids fail with
// ErrConnectionNotFound without affecting other connections.
func (r *Registry) Deliver(connectionID string, payload []byte) error {
	r.mu.Lock()
	_, ok := r.conns[connectionID]
	r.mu.Unlock()
	if !ok {
		return errspkg.ErrConnectionNotFound
	}

	return r.publisher.Publish(ConnTopic(connectionID), message.NewMessage(ids.CreateULID(), payload))
}

// Broadcast delivers a frame to every live connection, best effort.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.Lock()
	targets := make([]string, len(r.order))
	copy(targets, r.order)
	r.mu.Unlock()

	for _, connectionID := range targets {
		if err := r.Deliver(connectionID, payload); err != nil {
			r.logger.Debug("Broadcast skipped stale connection", logging.LogFields{
				"connection_id": connectionID,
			})
		}
	}
}

// ConnectionCount reports the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// SubscriptionCount reports the number of active subscriptions.
func (r *Registry) SubscriptionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Subscriptions returns a snapshot of the connection's subscriptions, or
// nil when the connection is unknown.
func (r *Registry) Subscriptions(connectionID string) []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.conns[connectionID]
	if !ok {
		return nil
	}
	out := make([]Subscription, 0, len(record.subscriptions))
	for _, sub := range record.subscriptions {
		out = append(out, *sub)
	}
	return out
}

func (r *Registry) sendFrame(connectionID string, frame any) {
	payload, err := jsoncodec.Marshal(frame)
	if err != nil {
		r.logger.Error("Failed to encode frame", err, logging.LogFields{"connection_id": connectionID})
		return
	}
	if err := r.Deliver(connectionID, payload); err != nil {
		r.logger.Error("Failed to deliver frame", err, logging.LogFields{"connection_id": connectionID})
	}
}
