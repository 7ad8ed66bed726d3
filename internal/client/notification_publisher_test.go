package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloprocure/be-proc-approvals/internal/repository"
)

func TestDisabledPublisherIsNoOp(t *testing.T) {
	p, err := NewNotificationPublisher("", zerolog.Nop())
	require.NoError(t, err)

	// Must not panic without a connection.
	p.PublishApprovalEvent(context.Background(), "approval_required",
		repository.EntityProcurementRequest, "pr-1", "carol", []string{"bob"}, nil)
	p.Close()
}

func TestNotificationEventSchema(t *testing.T) {
	event := &NotificationEvent{
		EventType:    "approval_required",
		EntityType:   "procurement_request",
		EntityID:     "pr-1",
		ActorID:      "carol",
		Recipients:   []string{"bob"},
		IsActionable: true,
		Severity:     "info",
		Category:     "procurement_approval",
		Payload:      map[string]interface{}{"level_number": 1},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "approval_required", decoded["event_type"])
	assert.Equal(t, true, decoded["is_actionable"])
	assert.Equal(t, []interface{}{"bob"}, decoded["recipients"])
}
