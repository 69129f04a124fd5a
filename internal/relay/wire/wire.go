// Package wire defines the JSON frames exchanged between clients and the
// relay, and the dispatch table that turns raw inbound frames into typed
// commands. Every frame is discriminated by its "type" field.
package wire

import (
	"fmt"
	"time"

	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
)

// Frame type discriminators. Inbound types are commands from clients;
// outbound types are frames the relay emits.
const (
	TypeSubscribe   = "subscribe_sds"
	TypeUnsubscribe = "unsubscribe_sds"
	TypePublish     = "publish_auction_event"

	TypeConnectionEstablished = "connection_established"
	TypeSubscriptionConfirmed = "sds_subscription_confirmed"
	TypeUnsubscribeConfirmed  = "unsubscribe_confirmed"
	TypeAuctionEvent          = "auction_event"
	TypeHeartbeat             = "heartbeat"
	TypeRelayHeartbeat        = "sds_heartbeat"
	TypeEventPublished        = "event_published"
	TypeError                 = "error"
)

// SourceTag marks envelopes as originating from the relay's stream bridge.
const SourceTag = "sds_stream"

// Envelope is the canonical wrapped form of a published event, as broadcast
// to subscribers. Envelopes are immutable after construction.
type Envelope struct {
	Type      string         `json:"type"`
	EventType string         `json:"eventType"`
	AuctionID string         `json:"auctionId"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source"`
}

// NewEnvelope wraps event data in the canonical broadcast form. The
// timestamp is assigned by the caller (the relay core captures publish
// time; client-submitted times are never trusted for ordering).
func NewEnvelope(eventType, auctionID string, data map[string]any, at time.Time) Envelope {
	return Envelope{
		Type:      TypeAuctionEvent,
		EventType: eventType,
		AuctionID: auctionID,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      data,
		Source:    SourceTag,
	}
}

// Command is a decoded inbound frame. The concrete type identifies the
// operation.
type Command interface {
	FrameType() string
}

// SubscribeCommand asks the relay to register a subscription for the
// sending connection. An empty AuctionID subscribes to every auction.
type SubscribeCommand struct {
	Type      string `json:"type"`
	EventType string `json:"eventType"`
	AuctionID string `json:"auctionId"`
}

func (SubscribeCommand) FrameType() string { return TypeSubscribe }

// UnsubscribeCommand removes a previously confirmed subscription.
type UnsubscribeCommand struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
}

func (UnsubscribeCommand) FrameType() string { return TypeUnsubscribe }

// PublishCommand asks the relay to validate and broadcast an auction event.
type PublishCommand struct {
	Type      string         `json:"type"`
	EventType string         `json:"eventType"`
	AuctionID string         `json:"auctionId"`
	EventData map[string]any `json:"eventData"`
}

func (PublishCommand) FrameType() string { return TypePublish }

// UnknownFrameError reports an inbound frame whose type has no decoder.
type UnknownFrameError struct {
	Type string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

type frameHeader struct {
	Type string `json:"type"`
}

var decoders = map[string]func([]byte) (Command, error){
	TypeSubscribe: func(raw []byte) (Command, error) {
		var cmd SubscribeCommand
		if err := jsoncodec.Unmarshal(raw, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	},
	TypeUnsubscribe: func(raw []byte) (Command, error) {
		var cmd UnsubscribeCommand
		if err := jsoncodec.Unmarshal(raw, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	},
	TypePublish: func(raw []byte) (Command, error) {
		var cmd PublishCommand
		if err := jsoncodec.Unmarshal(raw, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	},
}

// DecodeCommand parses a raw inbound frame into its typed command via the
// dispatch table. Unknown types yield an UnknownFrameError so handlers can
// report them to the offending client without guessing at payload shapes.
func DecodeCommand(raw []byte) (Command, error) {
	var header frameHeader
	if err := jsoncodec.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	decode, ok := decoders[header.Type]
	if !ok {
		return nil, &UnknownFrameError{Type: header.Type}
	}
	return decode(raw)
}

// Ack frames sent back to the connection that issued a command.

// ConnectionEstablished greets a freshly registered connection.
type ConnectionEstablished struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

// SubscriptionConfirmed acknowledges a subscribe_sds command.
type SubscriptionConfirmed struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
	EventType      string `json:"eventType"`
	AuctionID      string `json:"auctionId"`
	Timestamp      string `json:"timestamp"`
}

// UnsubscribeConfirmed acknowledges an unsubscribe_sds command.
type UnsubscribeConfirmed struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
	Timestamp      string `json:"timestamp"`
}

// EventPublished reports the outcome of a publish_auction_event command to
// its sender.
type EventPublished struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Delivered int    `json:"delivered"`
	Timestamp string `json:"timestamp"`
}

// Heartbeat is the per-connection transport liveness probe.
type Heartbeat struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// RelayHeartbeat is the relay-health broadcast, distinct from the
// per-connection transport heartbeat. It carries a snapshot of the
// relay's connection and subscription load alongside the status flag.
type RelayHeartbeat struct {
	Type                string `json:"type"`
	Status              string `json:"status"`
	ConnectedClients    int    `json:"connectedClients"`
	ActiveSubscriptions int    `json:"activeSubscriptions"`
	Timestamp           string `json:"timestamp"`
}

// ErrorFrame reports a per-command failure to the offending client only.
type ErrorFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Stamp formats t the way every outbound frame carries its timestamp.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
