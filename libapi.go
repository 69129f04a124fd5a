package bidrelay

import (
	relaypkg "github.com/drblury/bidrelay/internal/relay"
	clientpkg "github.com/drblury/bidrelay/internal/relay/client"
	configpkg "github.com/drblury/bidrelay/internal/relay/config"
	errspkg "github.com/drblury/bidrelay/internal/relay/errors"
	livenesspkg "github.com/drblury/bidrelay/internal/relay/liveness"
	loggingpkg "github.com/drblury/bidrelay/internal/relay/logging"
	metricspkg "github.com/drblury/bidrelay/internal/relay/metrics"
	schemapkg "github.com/drblury/bidrelay/internal/relay/schema"
	wirepkg "github.com/drblury/bidrelay/internal/relay/wire"
)

type (
	Config              = configpkg.Config
	Service             = relaypkg.Service
	ServiceDependencies = relaypkg.ServiceDependencies

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Schema catalogue
	SchemaRegistry        = schemapkg.Registry
	SchemaDefinition      = schemapkg.Definition
	SchemaDescriptor      = schemapkg.Descriptor
	SchemaField           = schemapkg.Field
	UnknownEventTypeError = schemapkg.UnknownEventTypeError
	SchemaMismatchError   = schemapkg.MismatchError
	FieldEncoder          = schemapkg.FieldEncoder

	// Wire frames
	Envelope       = wirepkg.Envelope
	EventPublished = wirepkg.EventPublished

	// Liveness
	LivenessState = livenesspkg.State

	// Metrics
	MetricsCollector = metricspkg.Collector

	// Client
	Client        = clientpkg.Client
	ClientOptions = clientpkg.Options
	ClientState   = clientpkg.State
	ClientDialer  = clientpkg.Dialer
	ClientConn    = clientpkg.Conn
)

var (
	NewService     = relaypkg.NewService
	TryNewService  = relaypkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig
	ConfigFromEnv  = configpkg.FromEnv

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewSchemaRegistry     = schemapkg.NewRegistry
	DefaultSchemaRegistry = schemapkg.MustDefaultRegistry
	ParseFieldSpec        = schemapkg.ParseFieldSpec

	NewMetricsCollector = metricspkg.NewCollector

	NewClient          = clientpkg.New
	NewWebSocketDialer = clientpkg.NewWebSocketDialer
	Backoff            = clientpkg.Backoff

	ErrConnectionNotFound = errspkg.ErrConnectionNotFound
	ErrRelayURLRequired   = errspkg.ErrRelayURLRequired
)

// Liveness states, re-exported for callers inspecting connection health.
const (
	LivenessAlive        = livenesspkg.StateAlive
	LivenessAwaitingPong = livenesspkg.StateAwaitingPong
	LivenessDead         = livenesspkg.StateDead
)

// Client connection states.
const (
	ClientDisconnected = clientpkg.StateDisconnected
	ClientConnecting   = clientpkg.StateConnecting
	ClientConnected    = clientpkg.StateConnected
)

// Event types in the default catalogue.
const (
	EventBidPlaced      = "BID_PLACED"
	EventAuctionStarted = "AUCTION_STARTED"
	EventAuctionEnded   = "AUCTION_ENDED"
	EventNFTMinted      = "NFT_MINTED"
)
