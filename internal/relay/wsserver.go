package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drblury/bidrelay/internal/relay/jsoncodec"
	"github.com/drblury/bidrelay/internal/relay/logging"
	"github.com/drblury/bidrelay/internal/relay/wire"
)

// wsConn wraps one WebSocket connection. It is the connection's Sink for
// the registry's writer pump and its Pinger for the liveness monitor. A
// single write mutex serialises data frames, control pings, and heartbeats
// because gorilla/websocket permits one concurrent writer only.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Ping probes the connection twice over: a WebSocket control ping for
// conforming clients and a heartbeat JSON frame for browser clients, which
// cannot observe control frames.
func (c *wsConn) Ping() error {
	heartbeat, err := jsoncodec.Marshal(wire.Heartbeat{
		Type:      wire.TypeHeartbeat,
		Timestamp: wire.Stamp(time.Now()),
	})
	if err != nil {
		return err
	}
	if err := c.WriteFrame(heartbeat); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) CloseNow() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// serveWebSocket upgrades the request and runs the connection's read loop
// until the peer disconnects or the liveness monitor closes the socket.
func (s *Service) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.Conf.CORSAllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.Conf.CORSAllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Error("WebSocket upgrade failed", err, logging.LogFields{"remote": r.RemoteAddr})
		return
	}

	sink := &wsConn{conn: conn, writeTimeout: s.Conf.WriteTimeout}

	connectionID, err := s.registry.Register(r.Context(), sink)
	if err != nil {
		s.Logger.Error("Failed to register connection", err, logging.LogFields{"remote": r.RemoteAddr})
		sink.CloseNow()
		return
	}

	s.metrics.ConnectionOpened()
	s.monitor.Track(connectionID, sink)
	conn.SetPongHandler(func(string) error {
		s.monitor.Touch(connectionID)
		return nil
	})

	s.readLoop(connectionID, conn)

	s.monitor.Forget(connectionID)
	s.registry.Remove(connectionID)
	s.metrics.ConnectionClosed()
	s.metrics.SetSubscriptions(s.registry.SubscriptionCount())
	sink.CloseNow()
	s.Logger.Info("Connection closed", logging.LogFields{"connection_id": connectionID})
}

// readLoop pulls frames off the socket until it errors. Every inbound
// frame, valid or not, counts as proof of life.
func (s *Service) readLoop(connectionID string, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Logger.Debug("Read loop ended", logging.LogFields{"connection_id": connectionID})
			}
			return
		}
		s.monitor.Touch(connectionID)
		s.handleFrame(connectionID, raw)
	}
}

// handleFrame dispatches one inbound frame. Failures are reported to the
// offending connection only and never tear the connection down.
func (s *Service) handleFrame(connectionID string, raw []byte) {
	cmd, err := wire.DecodeCommand(raw)
	if err != nil {
		s.sendError(connectionID, err.Error())
		return
	}

	switch cmd := cmd.(type) {
	case wire.SubscribeCommand:
		if _, err := s.registry.Subscribe(connectionID, cmd.EventType, cmd.AuctionID); err != nil {
			s.sendError(connectionID, err.Error())
			return
		}
		s.metrics.SetSubscriptions(s.registry.SubscriptionCount())

	case wire.UnsubscribeCommand:
		s.registry.Unsubscribe(cmd.SubscriptionID)
		s.metrics.SetSubscriptions(s.registry.SubscriptionCount())
		s.sendFrame(connectionID, wire.UnsubscribeConfirmed{
			Type:           wire.TypeUnsubscribeConfirmed,
			SubscriptionID: cmd.SubscriptionID,
			Timestamp:      wire.Stamp(s.now()),
		})

	case wire.PublishCommand:
		_, delivered, err := s.Publish(context.Background(), cmd.EventType, cmd.AuctionID, cmd.EventData)
		if err != nil {
			s.sendError(connectionID, err.Error())
			return
		}
		s.sendFrame(connectionID, wire.EventPublished{
			Type:      wire.TypeEventPublished,
			Success:   true,
			Message:   "Event published",
			Delivered: delivered,
			Timestamp: wire.Stamp(s.now()),
		})
	}
}

func (s *Service) sendError(connectionID, message string) {
	s.sendFrame(connectionID, wire.ErrorFrame{
		Type:      wire.TypeError,
		Message:   message,
		Timestamp: wire.Stamp(s.now()),
	})
}

// sendFrame delivers an ack to one connection through its topic so it
// cannot overtake frames already queued.
func (s *Service) sendFrame(connectionID string, frame any) {
	payload, err := jsoncodec.Marshal(frame)
	if err != nil {
		s.Logger.Error("Failed to encode frame", err, logging.LogFields{"connection_id": connectionID})
		return
	}
	if err := s.registry.Deliver(connectionID, payload); err != nil {
		s.Logger.Debug("Ack skipped stale connection", logging.LogFields{"connection_id": connectionID})
	}
}
