// Package client holds outbound collaborators: the NATS event publisher.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/veloprocure/be-proc-approvals/internal/repository"
)

// NotificationPublisher publishes approval workflow events to NATS for the
// notifications service.
//
// Subject convention: notifications.procurement.<event_type>
// Event types: workflow_initiated, approval_required, workflow_approved,
//              workflow_rejected
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	EntityType   string                 `json:"entity_type"`
	EntityID     string                 `json:"entity_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher dials NATS and returns a publisher. An empty URL
// returns a disabled publisher whose methods are no-ops.
func NewNotificationPublisher(natsURL string, log zerolog.Logger) (*NotificationPublisher, error) {
	if natsURL == "" {
		return &NotificationPublisher{log: log}, nil
	}
	conn, err := nats.Connect(natsURL, nats.Name("be-proc-approvals"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NotificationPublisher{conn: conn, log: log}, nil
}

// Close drains the underlying connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// PublishApprovalEvent publishes a procurement approval event.
// Subject: notifications.procurement.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(
	_ context.Context,
	eventType string,
	entityType repository.EntityType,
	entityID, actorID string,
	recipients []string,
	payload map[string]interface{},
) {
	if p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		EntityType:   string(entityType),
		EntityID:     entityID,
		ActorID:      actorID,
		Recipients:   recipients,
		IsActionable: eventType == "approval_required",
		Severity:     "info",
		Category:     "procurement_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.procurement.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("entity_id", entityID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("entity_id", entityID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
