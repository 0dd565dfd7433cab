package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

func TestParseLifecycleEvent(t *testing.T) {
	t.Run("full payload", func(t *testing.T) {
		raw := []byte(`{
			"event": "profile.suspended",
			"eventId": "evt-991",
			"iccid": "8901260852291234567",
			"reason": "fraud review",
			"usage": 950.5,
			"threshold": "1000"
		}`)
		ev, err := ParseLifecycleEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, "profile.suspended", ev.RawType)
		assert.Equal(t, "evt-991", ev.EventID)
		assert.Equal(t, id.ICCID("8901260852291234567"), ev.ICCID)
		assert.Equal(t, "fraud review", ev.Reason)
		assert.Equal(t, "950.5", ev.Usage)
		assert.Equal(t, "1000", ev.Threshold)
		assert.JSONEq(t, string(raw), string(ev.Raw))
	})

	t.Run("profileId accepted as iccid", func(t *testing.T) {
		ev, err := ParseLifecycleEvent([]byte(`{"event":"profile.activated","profileId":"8901260852291234567"}`))
		require.NoError(t, err)
		assert.Equal(t, id.ICCID("8901260852291234567"), ev.ICCID)
	})

	t.Run("order reference only", func(t *testing.T) {
		ev, err := ParseLifecycleEvent([]byte(`{"event":"profile.activated","orderReference":"vo-55"}`))
		require.NoError(t, err)
		assert.True(t, ev.ICCID.IsNil())
		assert.Equal(t, id.VendorOrderRef("vo-55"), ev.VendorOrderRef)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := ParseLifecycleEvent([]byte(`{"event":`))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("missing event tag rejected", func(t *testing.T) {
		_, err := ParseLifecycleEvent([]byte(`{"iccid":"8901260852291234567"}`))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("invalid iccid rejected", func(t *testing.T) {
		_, err := ParseLifecycleEvent([]byte(`{"event":"profile.activated","iccid":"123"}`))
		require.Error(t, err)
	})
}

func TestNormalizeEventType(t *testing.T) {
	cases := map[string]EventType{
		"profile.activated":   EventActivated,
		"profile.enabled":     EventActivated,
		"profile.resumed":     EventUnsuspended,
		"profile.canceled":    EventCancelled,
		"profile.cancelled":   EventCancelled,
		"usage.threshold":     EventUsageThreshold,
		"balance.low":         EventBalanceLow,
	}
	for raw, want := range cases {
		got, ok := NormalizeEventType(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got)
	}

	_, ok := NormalizeEventType("profile.futurething")
	assert.False(t, ok)
}

func TestDedupKey(t *testing.T) {
	ev := &LifecycleEvent{RawType: "profile.activated", EventID: "evt-1", ICCID: "8901260852291234567"}
	assert.Equal(t, "profile.activated:evt-1:8901260852291234567", ev.DedupKey())

	ev.EventID = ""
	assert.Empty(t, ev.DedupKey(), "no vendor event id means no dedup key")
}
