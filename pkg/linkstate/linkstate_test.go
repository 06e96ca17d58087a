package linkstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skycoin/meshrouter/pkg/cipher"
)

func TestTryLockRequiresBothStable(t *testing.T) {
	s := New()
	require.False(t, s.TryLock(SideA))

	s.SetSideStable(SideA)
	require.False(t, s.TryLock(SideA))

	s.SetSideStable(SideB)
	require.True(t, s.TryLock(SideA))
	require.True(t, s.IsLocked(SideA))
}

func TestTryLockFailsIfAlreadyLocked(t *testing.T) {
	s := New()
	s.SetSideStable(SideA)
	s.SetSideStable(SideB)

	require.True(t, s.TryLock(SideA))
	require.False(t, s.TryLock(SideA))
	// The other side can still independently try and fail too, since the
	// protocol only ever has one locker per bypass attempt.
	require.False(t, s.TryLock(SideB))
}

func TestUnlockReleasesLock(t *testing.T) {
	s := New()
	s.SetSideStable(SideA)
	s.SetSideStable(SideB)
	require.True(t, s.TryLock(SideA))

	s.Unlock(SideA)
	require.False(t, s.IsLocked(SideA))
	require.True(t, s.TryLock(SideA))
}

func TestWaitingBitRoundTrip(t *testing.T) {
	s := New()
	require.False(t, s.ResetWaitingBit(SideA))

	s.SetWaiting(SideA)
	require.True(t, s.ResetWaitingBit(SideA))
	require.False(t, s.ResetWaitingBit(SideA))
}

func TestAllowedBypassRequestSource(t *testing.T) {
	s := New()
	pk, _ := cipher.GenerateKeyPair()
	name := cipher.NodeNameFromPubKey(pk)

	require.False(t, s.CanNodeRequestBypass(name))
	s.SetAllowedBypassRequestSource(name)
	require.True(t, s.CanNodeRequestBypass(name))

	otherPK, _ := cipher.GenerateKeyPair()
	require.False(t, s.CanNodeRequestBypass(cipher.NodeNameFromPubKey(otherPK)))
}

func TestQueueStateSetSnapshot(t *testing.T) {
	var q QueueState
	q.Set(3, 128)
	parcels, bytes := q.Snapshot()
	require.Equal(t, uint32(3), parcels)
	require.Equal(t, uint32(128), bytes)
}
