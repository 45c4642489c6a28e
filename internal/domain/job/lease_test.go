package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	t.Run("default heartbeat is a third of the lease", func(t *testing.T) {
		p, err := NewLeasePolicy(60*time.Second, 0)
		require.NoError(t, err)
		assert.Equal(t, 60*time.Second, p.Lease())
		assert.Equal(t, 60, p.Seconds())
		assert.Equal(t, 20*time.Second, p.HeartbeatInterval())
	})

	t.Run("explicit heartbeat", func(t *testing.T) {
		p, err := NewLeasePolicy(30*time.Second, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, p.HeartbeatInterval())
	})

	t.Run("lease too short", func(t *testing.T) {
		_, err := NewLeasePolicy(time.Second, 0)
		require.ErrorIs(t, err, ErrLeaseTooShort)
	})

	t.Run("heartbeat not shorter than lease", func(t *testing.T) {
		_, err := NewLeasePolicy(10*time.Second, 10*time.Second)
		require.ErrorIs(t, err, ErrHeartbeatTooSlow)
	})

	t.Run("fractional seconds round down", func(t *testing.T) {
		p, err := NewLeasePolicy(7500*time.Millisecond, 0)
		require.NoError(t, err)
		assert.Equal(t, 7, p.Seconds())
	})
}

func TestLeasePolicy_Expired(t *testing.T) {
	p, err := NewLeasePolicy(30*time.Second, 0)
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.True(t, p.Expired(nil, now))
	assert.True(t, p.Expired(&past, now))
	assert.True(t, p.Expired(&now, now))
	assert.False(t, p.Expired(&future, now))
}
