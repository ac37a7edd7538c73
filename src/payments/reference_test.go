package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReferenceEncodeParseRoundTrip(t *testing.T) {
	ref := Reference{
		Version:       2,
		TenantID:      "7f9c0e53-0a6b-4f7e-9c1d-0a1b2c3d4e5f",
		AppointmentID: 42,
		Action:        ActionDeposit,
		Nonce:         "abc123",
	}
	parsed, ok := ParseReference(ref.Encode())
	assert.True(t, ok)
	assert.Equal(t, ref.TenantID, parsed.TenantID)
	assert.Equal(t, uint(42), parsed.AppointmentID)
	assert.Equal(t, ActionDeposit, parsed.Action)
	assert.Equal(t, "abc123", parsed.Nonce)
}

func TestReferenceSubscriptionRoundTrip(t *testing.T) {
	ref := Reference{
		Version:        2,
		TenantID:       "tenant-1",
		SubscriptionID: 9,
		PlanID:         3,
		Action:         ActionRenewal,
	}
	parsed, ok := ParseReference(ref.Encode())
	assert.True(t, ok)
	assert.Equal(t, uint(9), parsed.SubscriptionID)
	assert.Equal(t, uint(3), parsed.PlanID)
	assert.Equal(t, ActionRenewal, parsed.Action)
	assert.Zero(t, parsed.AppointmentID)
}

func TestParseLegacyAppointmentProbe(t *testing.T) {
	parsed, ok := ParseReference("tenant-a:77")
	assert.True(t, ok)
	assert.Equal(t, "tenant-a", parsed.TenantID)
	assert.Equal(t, uint(77), parsed.AppointmentID)
	assert.Zero(t, parsed.SubscriptionID)
}

func TestParseLegacySubscriptionWithSuffixes(t *testing.T) {
	// suffixes accumulated over time must not break positional parsing
	parsed, ok := ParseReference("tenant-a:12:4:renewal:extra:junk")
	assert.True(t, ok)
	assert.Equal(t, uint(12), parsed.SubscriptionID)
	assert.Equal(t, uint(4), parsed.PlanID)
	assert.Equal(t, ActionRenewal, parsed.Action)
}

func TestParseLegacyActionWithoutPlan(t *testing.T) {
	parsed, ok := ParseReference("tenant-a:12:upgrade")
	assert.True(t, ok)
	assert.Equal(t, uint(12), parsed.SubscriptionID)
	assert.Equal(t, ActionUpgrade, parsed.Action)
}

func TestParseTaggedUnknownTagsTolerated(t *testing.T) {
	parsed, ok := ParseReference("v2:t=tenant-b:a=5:z=whatever:x=deposit")
	assert.True(t, ok)
	assert.Equal(t, uint(5), parsed.AppointmentID)
	assert.Equal(t, ActionDeposit, parsed.Action)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "   ", "justone", "tenant:notanumber", "v2:t=x"} {
		_, ok := ParseReference(s)
		assert.False(t, ok, s)
	}
}

func TestAppointmentProbeReference(t *testing.T) {
	assert.Equal(t, "tenant-c:31", AppointmentProbeReference("tenant-c", 31))
}
