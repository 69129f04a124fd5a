// Package relay wires the relay's parts together: the schema catalogue, the
// connection registry on its in-process pub/sub fabric, the liveness
// monitor, the recent-events ring, and the HTTP/WebSocket surface.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	configpkg "github.com/drblury/bidrelay/internal/relay/config"
	errspkg "github.com/drblury/bidrelay/internal/relay/errors"
	"github.com/drblury/bidrelay/internal/relay/httpapi"
	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
	"github.com/drblury/bidrelay/internal/relay/liveness"
	"github.com/drblury/bidrelay/internal/relay/logging"
	"github.com/drblury/bidrelay/internal/relay/metrics"
	"github.com/drblury/bidrelay/internal/relay/registry"
	"github.com/drblury/bidrelay/internal/relay/ring"
	"github.com/drblury/bidrelay/internal/relay/schema"
	"github.com/drblury/bidrelay/internal/relay/wire"
)

// ServiceDependencies holds the optional collaborators of a Service. Leave
// fields nil to use the defaults.
type ServiceDependencies struct {
	// SchemaRegistry is the closed event-type catalogue. Nil selects the
	// built-in auction catalogue.
	SchemaRegistry *schema.Registry

	// Publisher and Subscriber override the in-process delivery fabric.
	// Both must be set together; nil selects a gochannel pub/sub sized by
	// Config.OutputBuffer.
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Metrics overrides the Prometheus collector. Nil creates a fresh one.
	Metrics *metrics.Collector

	// FieldEncoder validates and normalizes field values against their
	// declared types during publish. Nil means values pass through
	// untyped; only the field names are enforced.
	FieldEncoder schema.FieldEncoder
}

// Service is the relay process: it accepts WebSocket connections, validates
// published auction events against the schema catalogue, and fans them out
// to matching subscribers.
type Service struct {
	Conf   *configpkg.Config
	Logger logging.ServiceLogger

	schemas  *schema.Registry
	registry *registry.Registry
	monitor  *liveness.Monitor
	ring     *ring.Buffer
	metrics  *metrics.Collector
	encoder  schema.FieldEncoder

	closer func() error
	now    func() time.Time
}

// TryNewService constructs a Service, reporting configuration problems as
// errors instead of panicking.
func TryNewService(conf *configpkg.Config, log logging.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf.Normalize()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	schemas := deps.SchemaRegistry
	if schemas == nil {
		schemas = schema.MustDefaultRegistry()
	}

	publisher, subscriber := deps.Publisher, deps.Subscriber
	var closer func() error
	if publisher == nil || subscriber == nil {
		fabric := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(conf.OutputBuffer),
		}, logging.NewWatermillAdapter(log))
		publisher, subscriber = fabric, fabric
		closer = fabric.Close
	}

	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}

	s := &Service{
		Conf:     conf,
		Logger:   log,
		schemas:  schemas,
		registry: registry.New(publisher, subscriber, schemas, log),
		ring:     ring.NewBuffer(conf.RingCapacity),
		metrics:  collector,
		encoder:  deps.FieldEncoder,
		closer:   closer,
		now:      time.Now,
	}
	s.monitor = liveness.NewMonitor(conf.PingInterval, conf.LivenessTimeout, s.reapConnection, log)

	if s.encoder == nil {
		log.Info("No field encoder configured, event values pass through untyped", nil)
	}
	log.Info("Creating relay service", logging.LogFields{
		"listen_address": conf.ListenAddress,
		"ping_interval":  conf.PingInterval.String(),
		"ring_capacity":  conf.RingCapacity,
		"event_types":    schemas.Names(),
	})
	return s, nil
}

// NewService constructs a Service and panics on invalid configuration.
// Use TryNewService when the caller wants the error instead.
func NewService(conf *configpkg.Config, log logging.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// reapConnection runs after the liveness monitor closed a dead connection's
// transport. It only detaches the registry record; the connection's read
// loop observes the closed socket and owns the rest of the cleanup, so
// metrics are adjusted exactly once.
func (s *Service) reapConnection(connectionID string) {
	s.registry.Remove(connectionID)
}

// Counts reports the number of live connections and active subscriptions.
func (s *Service) Counts() (connections, subscriptions int) {
	return s.registry.ConnectionCount(), s.registry.SubscriptionCount()
}

// Schemas lists the event-type catalogue.
func (s *Service) Schemas() []schema.Descriptor {
	return s.schemas.All()
}

// Schema looks up one event type's descriptor.
func (s *Service) Schema(eventType string) (schema.Descriptor, error) {
	return s.schemas.Lookup(eventType)
}

// Recent returns the retained envelopes, oldest first.
func (s *Service) Recent() []wire.Envelope {
	return s.ring.Snapshot()
}

// Handler builds the full HTTP surface: the JSON API, the WebSocket
// endpoint on /ws, and /metrics when enabled.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewHandler(s, s.Conf.CORSAllowedOrigins, s.Logger))
	mux.Handle("/ws", http.HandlerFunc(s.serveWebSocket))
	if s.Conf.MetricsEnabled {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves until the context is cancelled: it starts the liveness
// monitor, the relay-health heartbeat broadcast, and the HTTP server, then
// shuts everything down in order.
func (s *Service) Run(ctx context.Context) error {
	go s.monitor.Run(ctx)
	go s.heartbeatLoop(ctx)

	server := &http.Server{
		Addr:    s.Conf.ListenAddress,
		Handler: s.Handler(),
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.Info("Relay listening", logging.LogFields{"address": s.Conf.ListenAddress})
		errc <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if s.closer != nil {
			if cerr := s.closer(); cerr != nil {
				s.Logger.Error("Failed to close delivery fabric", cerr, nil)
			}
		}
		return err
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// heartbeatLoop broadcasts the relay-health frame to every connection at
// the configured cadence. This is the application-level heartbeat, separate
// from the transport ping the liveness monitor sends.
func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.Conf.RelayHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := jsoncodec.Marshal(s.relayHeartbeat())
			if err != nil {
				s.Logger.Error("Failed to encode heartbeat", err, nil)
				continue
			}
			s.registry.Broadcast(payload)
		}
	}
}

// relayHeartbeat snapshots the relay's current load into a health frame.
func (s *Service) relayHeartbeat() wire.RelayHeartbeat {
	return wire.RelayHeartbeat{
		Type:                wire.TypeRelayHeartbeat,
		Status:              "active",
		ConnectedClients:    s.registry.ConnectionCount(),
		ActiveSubscriptions: s.registry.SubscriptionCount(),
		Timestamp:           wire.Stamp(s.now()),
	}
}
