// Package schema holds the closed set of auction event schemas the relay
// accepts. Descriptors are parsed once at init from solidity-style field
// specs and never mutated afterwards, so lookups are safe from any
// goroutine without locking.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Field is a single named, typed slot in an event schema.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Descriptor describes one event type: its name, its ordered field layout,
// and the opaque stream identifier clients use to correlate events with the
// on-chain schema registration.
type Descriptor struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
	ID     string  `json:"id"`
}

// FieldNames returns the declared field names in schema order.
func (d Descriptor) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// UnknownEventTypeError reports a publish or subscribe that referenced an
// event type absent from the registry.
type UnknownEventTypeError struct {
	EventType string
	Known     []string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q (supported: %s)", e.EventType, strings.Join(e.Known, ", "))
}

// MismatchError reports event data whose field set does not exactly match
// the declared schema. Missing and Unexpected are sorted for deterministic
// error messages.
type MismatchError struct {
	EventType  string
	Missing    []string
	Unexpected []string
}

func (e *MismatchError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected fields: "+strings.Join(e.Unexpected, ", "))
	}
	return fmt.Sprintf("event data does not match schema %s (%s)", e.EventType, strings.Join(parts, "; "))
}

// CheckFields validates that data's key set exactly equals the schema's
// declared fields. Extra or missing keys are an error, never silently
// dropped. Field values are not type-checked here; that is the encoder's
// job when one is configured.
func (d Descriptor) CheckFields(data map[string]any) error {
	declared := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		declared[f.Name] = struct{}{}
	}

	var missing, unexpected []string
	for _, f := range d.Fields {
		if _, ok := data[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	for key := range data {
		if _, ok := declared[key]; !ok {
			unexpected = append(unexpected, key)
		}
	}

	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return &MismatchError{EventType: d.Name, Missing: missing, Unexpected: unexpected}
}

// FieldEncoder validates and normalizes one field value against its
// declared type. CheckFields only enforces field names; an encoder is the
// hook for value-level typing when a deployment wants it.
type FieldEncoder interface {
	EncodeField(field Field, value any) (any, error)
}

// Registry is the closed event-type catalogue. Construct it once at process
// start; there is no dynamic registration.
type Registry struct {
	descriptors map[string]Descriptor
	names       []string
}

// ParseFieldSpec parses a comma-separated "type name" field spec such as
// "uint256 auctionId, address bidder" into an ordered field list.
func ParseFieldSpec(spec string) ([]Field, error) {
	parts := strings.Split(spec, ",")
	fields := make([]Field, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.Fields(part)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("invalid field spec segment %q", part)
		}
		fields = append(fields, Field{Type: tokens[0], Name: tokens[1]})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("field spec %q declares no fields", spec)
	}
	return fields, nil
}

// Definition pairs an event name and stream id with its raw field spec, the
// form schemas are declared in at build time.
type Definition struct {
	Name      string
	FieldSpec string
	ID        string
}

// NewRegistry parses the provided definitions into an immutable registry.
func NewRegistry(definitions []Definition) (*Registry, error) {
	descriptors := make(map[string]Descriptor, len(definitions))
	names := make([]string, 0, len(definitions))
	for _, def := range definitions {
		if def.Name == "" {
			return nil, fmt.Errorf("schema definition without a name")
		}
		if _, exists := descriptors[def.Name]; exists {
			return nil, fmt.Errorf("duplicate schema definition %q", def.Name)
		}
		fields, err := ParseFieldSpec(def.FieldSpec)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", def.Name, err)
		}
		descriptors[def.Name] = Descriptor{Name: def.Name, Fields: fields, ID: def.ID}
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return &Registry{descriptors: descriptors, names: names}, nil
}

// DefaultDefinitions is the auction event catalogue served by the demo
// relay. The ids match the stream registrations on the test network. The
// auction id is carried on the envelope, not in the event data, so the
// specs below only declare the per-event payload fields.
var DefaultDefinitions = []Definition{
	{
		Name:      "BID_PLACED",
		FieldSpec: "address bidder, uint256 bidAmount, bytes32 txHash, uint256 timestamp",
		ID:        "0xdbc461f2979180da401d5fa5f646a62c0b862dd8128fec16258714b900c705ee",
	},
	{
		Name:      "AUCTION_STARTED",
		FieldSpec: "address seller, uint256 startingPrice, uint256 endTime, uint256 timestamp",
		ID:        "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
	},
	{
		Name:      "AUCTION_ENDED",
		FieldSpec: "address winner, uint256 finalPrice, uint256 timestamp",
		ID:        "0xfedcbafedcbafedcbafedcbafedcbafedcbafedcbafedcbafedcbafedcbafed",
	},
	{
		Name:      "NFT_MINTED",
		FieldSpec: "uint256 tokenId, address owner, string tokenURI, uint256 timestamp",
		ID:        "0xabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefab",
	},
}

// MustDefaultRegistry builds the default registry and panics on a malformed
// built-in definition. Definitions are compile-time constants, so a failure
// here is a programming error.
func MustDefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultDefinitions)
	if err != nil {
		panic(err)
	}
	return reg
}

// Lookup returns the descriptor for eventType, or an UnknownEventTypeError
// when the registry has no such schema.
func (r *Registry) Lookup(eventType string) (Descriptor, error) {
	desc, ok := r.descriptors[eventType]
	if !ok {
		return Descriptor{}, &UnknownEventTypeError{EventType: eventType, Known: r.names}
	}
	return desc, nil
}

// Has reports whether eventType is a known schema name.
func (r *Registry) Has(eventType string) bool {
	_, ok := r.descriptors[eventType]
	return ok
}

// All returns every descriptor sorted by name, for the introspection
// endpoint.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Names returns the sorted schema names.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
