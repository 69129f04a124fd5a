// Package liveness probes connections and tears down the ones that stop
// answering. Each connection runs the state machine
// ALIVE -> AWAITING_PONG -> ALIVE (pong or any traffic) or
// AWAITING_PONG -> DEAD (timeout), modelled explicitly so it can be tested
// without a socket.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/bidrelay/internal/relay/logging"
)

// State is a connection's liveness state.
type State int

const (
	StateAlive State = iota
	StateAwaitingPong
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StateAwaitingPong:
		return "AWAITING_PONG"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Pinger is the probe surface of one connection. Ping sends a liveness
// probe; CloseNow tears the transport down and must tolerate an already
// closed connection.
type Pinger interface {
	Ping() error
	CloseNow()
}

type probe struct {
	state    State
	lastSeen time.Time
	pinger   Pinger
}

// Monitor drives the per-connection liveness state machines off a shared
// ticker. On a timeout it reports the connection dead exactly once and
// closes it best effort.
type Monitor struct {
	logger   logging.ServiceLogger
	interval time.Duration
	timeout  time.Duration
	onDead   func(connectionID string)
	now      func() time.Time

	mu     sync.Mutex
	probes map[string]*probe
}

// NewMonitor creates a monitor that pings every interval and declares a
// connection dead after timeout without pong or traffic. onDead runs for
// each dead connection, after the transport close.
func NewMonitor(interval, timeout time.Duration, onDead func(connectionID string), logger logging.ServiceLogger) *Monitor {
	return &Monitor{
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		onDead:   onDead,
		now:      time.Now,
		probes:   make(map[string]*probe),
	}
}

// Track starts probing a connection.
func (m *Monitor) Track(connectionID string, pinger Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[connectionID] = &probe{state: StateAlive, lastSeen: m.now(), pinger: pinger}
}

// Touch records traffic from a connection. Any inbound frame counts as
// proof of life, not just pong control frames.
func (m *Monitor) Touch(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.probes[connectionID]; ok && p.state != StateDead {
		p.state = StateAlive
		p.lastSeen = m.now()
	}
}

// Forget stops probing a connection, typically because its read loop ended
// first.
func (m *Monitor) Forget(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, connectionID)
}

// StateOf reports a connection's current state. Unknown connections are
// DEAD.
func (m *Monitor) StateOf(connectionID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.probes[connectionID]; ok {
		return p.state
	}
	return StateDead
}

// Run sweeps at the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep advances every probe one tick: expired probes transition to DEAD
// and are reaped; live ones are pinged and await a pong.
func (m *Monitor) sweep() {
	now := m.now()

	// Pingers write to sockets, so classify probes under the lock and do
	// the I/O after releasing it.
	m.mu.Lock()
	var dead []*probe
	deadIDs := make([]string, 0)
	var pingers []Pinger
	var pingIDs []string
	for connectionID, p := range m.probes {
		if p.state == StateAwaitingPong && now.Sub(p.lastSeen) > m.timeout {
			p.state = StateDead
			dead = append(dead, p)
			deadIDs = append(deadIDs, connectionID)
			delete(m.probes, connectionID)
			continue
		}
		p.state = StateAwaitingPong
		pingers = append(pingers, p.pinger)
		pingIDs = append(pingIDs, connectionID)
	}
	m.mu.Unlock()

	for i, pinger := range pingers {
		if err := pinger.Ping(); err != nil {
			m.logger.Debug("Ping failed", logging.LogFields{"connection_id": pingIDs[i]})
		}
	}

	for i, p := range dead {
		m.logger.Info("Connection declared dead", logging.LogFields{"connection_id": deadIDs[i]})
		m.closeQuietly(p.pinger)
		if m.onDead != nil {
			m.onDead(deadIDs[i])
		}
	}
}

// closeQuietly closes a dead connection's transport. Closing an already
// closed connection must not take the monitor down.
func (m *Monitor) closeQuietly(pinger Pinger) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Debug("Close of dead connection panicked", logging.LogFields{"panic": r})
		}
	}()
	pinger.CloseNow()
}
