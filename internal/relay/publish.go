package relay

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/bidrelay/internal/relay/errors"
	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
	"github.com/drblury/bidrelay/internal/relay/logging"
	"github.com/drblury/bidrelay/internal/relay/wire"
)

var tracer = otel.Tracer("github.com/drblury/bidrelay")

// Publish validates an auction event against its schema, wraps it in the
// canonical envelope stamped with the relay's clock, retains it for
// catch-up reads, and fans it out to every matching subscriber. It returns
// the envelope and the number of connections it was handed to.
//
// Validation failures leave the ring and the subscribers untouched. A
// failed delivery to one connection never blocks delivery to the others.
func (s *Service) Publish(ctx context.Context, eventType, auctionID string, data map[string]any) (wire.Envelope, int, error) {
	_, span := tracer.Start(ctx, "relay.Publish", trace.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("auction.id", auctionID),
	))
	defer span.End()

	env, delivered, err := s.publish(eventType, auctionID, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return wire.Envelope{}, 0, err
	}
	span.SetAttributes(attribute.Int("relay.delivered", delivered))
	return env, delivered, nil
}

func (s *Service) publish(eventType, auctionID string, data map[string]any) (wire.Envelope, int, error) {
	if auctionID == "" {
		return wire.Envelope{}, 0, errspkg.ErrAuctionIDRequired
	}
	if data == nil {
		return wire.Envelope{}, 0, errspkg.ErrEventDataRequired
	}

	descriptor, err := s.schemas.Lookup(eventType)
	if err != nil {
		s.metrics.ValidationFailed("unknown_event_type")
		return wire.Envelope{}, 0, err
	}
	if err := descriptor.CheckFields(data); err != nil {
		s.metrics.ValidationFailed("schema_mismatch")
		return wire.Envelope{}, 0, err
	}

	if s.encoder != nil {
		encoded := make(map[string]any, len(data))
		for _, field := range descriptor.Fields {
			value, err := s.encoder.EncodeField(field, data[field.Name])
			if err != nil {
				s.metrics.ValidationFailed("field_encoding")
				return wire.Envelope{}, 0, fmt.Errorf("field %s: %w", field.Name, err)
			}
			encoded[field.Name] = value
		}
		data = encoded
	}

	env := wire.NewEnvelope(eventType, auctionID, data, s.now())
	payload, err := jsoncodec.Marshal(env)
	if err != nil {
		return wire.Envelope{}, 0, fmt.Errorf("encode envelope: %w", err)
	}

	s.ring.Append(env)

	targets := s.registry.Matching(eventType, auctionID)
	delivered := 0
	for _, connectionID := range targets {
		if err := s.registry.Deliver(connectionID, payload); err != nil {
			s.metrics.DeliveryFailed()
			s.Logger.Error("Delivery failed", err, logging.LogFields{
				"connection_id": connectionID,
				"event_type":    eventType,
			})
			continue
		}
		delivered++
	}

	s.metrics.EventPublished(eventType, delivered)
	s.Logger.Info("Event published", logging.LogFields{
		"event_type": eventType,
		"auction_id": auctionID,
		"delivered":  delivered,
	})
	return env, delivered, nil
}
