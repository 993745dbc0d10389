package metering

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageEvent(t *testing.T) {
	tenantID := uuid.New()

	t.Run("valid", func(t *testing.T) {
		event, err := NewUsageEvent(tenantID, ResourceEmail, UsageEventReminder, "customer@example.com")

		require.NoError(t, err)
		assert.Equal(t, tenantID, event.TenantID)
		assert.Equal(t, ResourceEmail, event.Resource)
		assert.Equal(t, UsageEventReminder, event.Kind)
		assert.Equal(t, "customer@example.com", event.Recipient)
		assert.False(t, event.CountedAsOverage)
		assert.True(t, event.Cost.IsZero())
		assert.False(t, event.OccurredAt.IsZero())
	})

	t.Run("empty kind defaults to send", func(t *testing.T) {
		event, err := NewUsageEvent(tenantID, ResourceSMS, "", "+46701234567")

		require.NoError(t, err)
		assert.Equal(t, UsageEventSend, event.Kind)
	})

	t.Run("nil tenant", func(t *testing.T) {
		_, err := NewUsageEvent(uuid.Nil, ResourceEmail, UsageEventSend, "a@b.se")
		assert.Error(t, err)
	})

	t.Run("invalid resource", func(t *testing.T) {
		_, err := NewUsageEvent(tenantID, ResourceType("pigeon"), UsageEventSend, "a@b.se")
		assert.Error(t, err)
	})

	t.Run("invalid kind", func(t *testing.T) {
		_, err := NewUsageEvent(tenantID, ResourceEmail, UsageEventKind("retract"), "a@b.se")
		assert.Error(t, err)
	})

	t.Run("empty recipient", func(t *testing.T) {
		_, err := NewUsageEvent(tenantID, ResourceEmail, UsageEventSend, "")
		assert.Error(t, err)
	})
}

func TestUsageEvent_WithOutcome(t *testing.T) {
	event, err := NewUsageEvent(uuid.New(), ResourceEmail, UsageEventSend, "a@b.se")
	require.NoError(t, err)

	rate := decimal.RequireFromString("0.10")
	result := event.WithOutcome(SendOutcome{
		IsOverage:       true,
		IncrementalCost: rate,
		NewTotal:        501,
	})

	assert.Same(t, event, result)
	assert.True(t, event.CountedAsOverage)
	assert.True(t, event.Cost.Equal(rate))
}

func TestParseResourceType(t *testing.T) {
	r, err := ParseResourceType("email")
	require.NoError(t, err)
	assert.Equal(t, ResourceEmail, r)

	r, err = ParseResourceType("sms")
	require.NoError(t, err)
	assert.Equal(t, ResourceSMS, r)

	_, err = ParseResourceType("fax")
	assert.Error(t, err)
}
