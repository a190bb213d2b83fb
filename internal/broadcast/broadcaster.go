// Package broadcast pushes job lifecycle events to a tenant's live
// connections. Delivery is fire-and-forget: nothing is buffered for offline
// tenants, and a reconnecting client re-fetches state from the job store.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"lead-agent-orchestrator/internal/models"
	"lead-agent-orchestrator/internal/telemetry"
)

// Conn is one live connection able to receive events. Send must not block
// indefinitely; a failed send is dropped.
type Conn interface {
	Send(event models.Event) error
}

// Broadcaster owns the tenant-room connection table. It is injected into the
// scheduler rather than reached as a singleton so each test can construct an
// isolated instance.
type Broadcaster struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Conn // tenant -> connID -> conn
	owners map[string]string          // connID -> tenant
	logger *slog.Logger
}

// New constructs an empty broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		rooms:  make(map[string]map[string]Conn),
		owners: make(map[string]string),
		logger: logger.With("component", "broadcaster"),
	}
}

// RegisterConnection associates a live connection with a tenant room.
func (b *Broadcaster) RegisterConnection(tenantID, connID string, conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rooms[tenantID] == nil {
		b.rooms[tenantID] = make(map[string]Conn)
	}
	b.rooms[tenantID][connID] = conn
	b.owners[connID] = tenantID
}

// UnregisterConnection drops a connection. Idempotent; unknown ids are a no-op.
func (b *Broadcaster) UnregisterConnection(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tenantID, ok := b.owners[connID]
	if !ok {
		return
	}
	delete(b.owners, connID)
	delete(b.rooms[tenantID], connID)
	if len(b.rooms[tenantID]) == 0 {
		delete(b.rooms, tenantID)
	}
}

// ConnectionCount returns the number of live connections for a tenant.
func (b *Broadcaster) ConnectionCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[tenantID])
}

// Publish delivers an event to every live connection of the tenant. Best
// effort: send failures are logged and dropped, never retried.
func (b *Broadcaster) Publish(tenantID, eventType, jobID string, payload map[string]any) {
	event := models.Event{
		Type:      eventType,
		JobID:     jobID,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	conns := make([]Conn, 0, len(b.rooms[tenantID]))
	for _, c := range b.rooms[tenantID] {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(event); err != nil {
			b.logger.Debug("dropping event for dead connection",
				"tenant_id", tenantID, "type", eventType, "error", err)
		}
	}
	telemetry.EventsPublished.Inc()
}
