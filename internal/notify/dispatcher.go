package notify

import (
	"context"
	"log"
	"time"

	"livedesk/internal/events"
	"livedesk/internal/gateway"
	"livedesk/pkg/interfaces"
)

// Dispatcher implements interfaces.Notifier over the connection registry
// ARCHITECTURAL DISCOVERY: Delivery is best-effort live fan-out - users with
// no live connection simply receive nothing, durable inboxes live elsewhere
type Dispatcher struct {
	registry  *gateway.Registry
	directory interfaces.UserDirectory
	publisher events.Publisher
}

// NewDispatcher creates a dispatcher. publisher may be a NoopPublisher.
func NewDispatcher(registry *gateway.Registry, directory interfaces.UserDirectory, publisher events.Publisher) *Dispatcher {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Dispatcher{
		registry:  registry,
		directory: directory,
		publisher: publisher,
	}
}

var _ interfaces.Notifier = (*Dispatcher)(nil)

// SendToUser emits to every live connection of the user.
func (d *Dispatcher) SendToUser(userID, event string, payload interface{}) {
	for _, conn := range d.registry.GetUserConnections(userID) {
		if err := conn.WriteEvent(event, payload); err != nil {
			log.Printf("Failed to deliver %s to user %s connection %s: %v", event, userID, conn.GetID(), err)
		}
	}

	d.mirror(event, "", userID, payload)
}

// SendToRoles emits to every live connection whose user holds one of the
// given roles
// FUNCTIONAL DISCOVERY: Membership is resolved against the user directory so
// multi-role users are reached even when their connection carries another
// primary role - the connection role is only a fallback
func (d *Dispatcher) SendToRoles(roles []string, event string, payload interface{}) {
	delivered := make(map[string]bool) // connID -> delivered

	if d.directory != nil {
		users, err := d.directory.ListByRole(context.Background(), roles...)
		if err != nil {
			log.Printf("Role lookup failed for %v, falling back to connection roles: %v", roles, err)
		} else {
			for _, user := range users {
				for _, conn := range d.registry.GetUserConnections(user.ID) {
					if delivered[conn.GetID()] {
						continue
					}
					delivered[conn.GetID()] = true
					if err := conn.WriteEvent(event, payload); err != nil {
						log.Printf("Failed to deliver %s to %s: %v", event, conn.GetID(), err)
					}
				}
			}
		}
	}

	for _, conn := range d.registry.GetConnectionsByRole(roles...) {
		if delivered[conn.GetID()] {
			continue
		}
		delivered[conn.GetID()] = true
		if err := conn.WriteEvent(event, payload); err != nil {
			log.Printf("Failed to deliver %s to %s: %v", event, conn.GetID(), err)
		}
	}

	d.mirror(event, "", "", payload)
}

// BroadcastToSession emits to every connection in the session room,
// excluding the connection id in excludeConnID when non-empty.
func (d *Dispatcher) BroadcastToSession(sessionID, event string, payload interface{}, excludeConnID string) {
	for _, conn := range d.registry.GetRoomConnections(sessionID) {
		if excludeConnID != "" && conn.GetID() == excludeConnID {
			continue
		}
		if err := conn.WriteEvent(event, payload); err != nil {
			log.Printf("Failed to broadcast %s to %s in session %s: %v", event, conn.GetID(), sessionID, err)
		}
	}

	d.mirror(event, sessionID, "", payload)
}

// mirror forwards the event to the broker publisher, best effort.
func (d *Dispatcher) mirror(event, sessionID, userID string, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := d.publisher.Publish(ctx, "gateway."+event, events.Envelope{
		Event:     event,
		SessionID: sessionID,
		UserID:    userID,
		Payload:   payload,
	})
	if err != nil {
		log.Printf("Failed to mirror %s to broker: %v", event, err)
	}
}
