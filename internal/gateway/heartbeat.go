package gateway

import (
	"context"
	"log"
	"time"

	"livedesk/pkg/types"
)

// HeartbeatMonitor sweeps live connections on a fixed interval, prompting
// clients for heartbeats and evicting the ones that stop answering
// ARCHITECTURAL DISCOVERY: One sweep goroutine over the registry instead of
// a timer per connection keeps liveness cost flat as connections grow
type HeartbeatMonitor struct {
	registry *Registry
	interval time.Duration
	limit    int // missed beats tolerated before eviction
	onEvict  func(conn *Connection)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHeartbeatMonitor creates a heartbeat monitor. onEvict is called for
// each stale connection after it has been closed.
func NewHeartbeatMonitor(registry *Registry, interval time.Duration, limit int, onEvict func(conn *Connection)) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if limit <= 0 {
		limit = 2
	}
	return &HeartbeatMonitor{
		registry: registry,
		interval: interval,
		limit:    limit,
		onEvict:  onEvict,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (m *HeartbeatMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	go m.run(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *HeartbeatMonitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep prompts every connection and evicts the stale ones
// FUNCTIONAL DISCOVERY: Staleness is measured from the last inbound frame of
// any kind, so an actively chatting client never needs explicit heartbeats
func (m *HeartbeatMonitor) sweep() {
	now := time.Now()
	staleAfter := m.interval * time.Duration(m.limit)

	for _, conn := range m.registry.GetAllConnections() {
		if now.Sub(conn.LastSeen()) > staleAfter {
			log.Printf("Evicting stale connection %s (user %s): no heartbeat for %v",
				conn.GetID(), conn.GetUserID(), now.Sub(conn.LastSeen()).Round(time.Second))
			if err := conn.Close(); err != nil {
				log.Printf("Failed to close stale connection %s: %v", conn.GetID(), err)
			}
			if m.onEvict != nil {
				m.onEvict(conn)
			}
			continue
		}

		// Best-effort prompt; a full write buffer will surface as
		// staleness on a later sweep.
		_ = conn.WriteEvent(types.EventHeartbeatRequest, map[string]interface{}{
			"timestamp": now,
		})
	}
}

// Ack records a heartbeat response and returns the ack payload to echo.
func (m *HeartbeatMonitor) Ack(conn *Connection, clientTimestamp string) types.HeartbeatAck {
	conn.Touch()
	return types.HeartbeatAck{
		Timestamp:       time.Now(),
		ClientTimestamp: clientTimestamp,
	}
}
