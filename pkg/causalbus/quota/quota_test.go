package quota_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/causalbus/pkg/causalbus/quota"
)

func TestTakeBurstThenReject(t *testing.T) {
	now := time.Unix(0, 0)
	ctrl := quota.NewController(quota.ControllerConfig{
		NowFunc: func() time.Time { return now },
	})
	ctrl.SetLimit("ops", quota.Limit{Capacity: 5, RefillRate: 1})

	// Exactly 5 immediate admissions, then rejection.
	for i := 0; i < 5; i++ {
		require.True(t, ctrl.Take("ops"), "publish %d should be admitted", i+1)
	}
	assert.False(t, ctrl.Take("ops"), "6th immediate publish should be rejected")

	// One more token after one second.
	now = now.Add(time.Second)
	assert.True(t, ctrl.Take("ops"), "publish after refill should be admitted")
	assert.False(t, ctrl.Take("ops"), "bucket should be empty again")
}

func TestRefillCapsAtCapacity(t *testing.T) {
	now := time.Unix(0, 0)
	ctrl := quota.NewController(quota.ControllerConfig{
		NowFunc: func() time.Time { return now },
	})
	ctrl.SetLimit("ops", quota.Limit{Capacity: 3, RefillRate: 10})

	// Idle far longer than needed to refill past capacity.
	now = now.Add(time.Hour)
	assert.InDelta(t, 3, ctrl.Tokens("ops"), 0.001)

	for i := 0; i < 3; i++ {
		require.True(t, ctrl.Take("ops"))
	}
	assert.False(t, ctrl.Take("ops"))
}

func TestUnlimitedChannelNeverRejects(t *testing.T) {
	ctrl := quota.NewController(quota.ControllerConfig{})
	ctrl.SetUnlimited("causalbus.overflow")

	for i := 0; i < 10_000; i++ {
		require.True(t, ctrl.Take("causalbus.overflow"))
	}
}

func TestDefaultLimitAppliesToUnknownChannels(t *testing.T) {
	now := time.Unix(0, 0)
	ctrl := quota.NewController(quota.ControllerConfig{
		Default: quota.Limit{Capacity: 2, RefillRate: 1},
		NowFunc: func() time.Time { return now },
	})

	assert.True(t, ctrl.Take("anything"))
	assert.True(t, ctrl.Take("anything"))
	assert.False(t, ctrl.Take("anything"))

	// Channels do not share buckets.
	assert.True(t, ctrl.Take("other"))
}

func TestFractionalRefillAccumulates(t *testing.T) {
	now := time.Unix(0, 0)
	ctrl := quota.NewController(quota.ControllerConfig{
		NowFunc: func() time.Time { return now },
	})
	ctrl.SetLimit("slow", quota.Limit{Capacity: 1, RefillRate: 0.5})

	require.True(t, ctrl.Take("slow"))
	now = now.Add(time.Second)
	assert.False(t, ctrl.Take("slow"), "half a token is not enough")
	now = now.Add(time.Second)
	assert.True(t, ctrl.Take("slow"), "two seconds at 0.5/s yields a full token")
}
