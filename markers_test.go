package lumenfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarker_IsValid(t *testing.T) {
	require.True(t, MarkerErasedSector.IsValid())
	require.True(t, MarkerFormattedSector.IsValid())
	require.True(t, MarkerPendingCluster.IsValid())
	require.True(t, MarkerAllocatedCluster.IsValid())
	require.True(t, MarkerOrphanedCluster.IsValid())
	require.False(t, Marker(0x55).IsValid())
}

func TestMarker_IsLegalSectorHead(t *testing.T) {
	require.False(t, MarkerErasedSector.IsLegalSectorHead())
	require.True(t, MarkerFormattedSector.IsLegalSectorHead())
	require.True(t, MarkerPendingCluster.IsLegalSectorHead())
	require.True(t, MarkerAllocatedCluster.IsLegalSectorHead())
	require.True(t, MarkerOrphanedCluster.IsLegalSectorHead())
}

func TestMarker_IsFree(t *testing.T) {
	require.True(t, MarkerErasedSector.IsFree())
	require.True(t, MarkerFormattedSector.IsFree())
	require.False(t, MarkerPendingCluster.IsFree())
	require.False(t, MarkerAllocatedCluster.IsFree())
	require.False(t, MarkerOrphanedCluster.IsFree())
}

func TestMarker_IsOrphaned(t *testing.T) {
	require.True(t, MarkerOrphanedCluster.IsOrphaned())
	require.True(t, MarkerPendingCluster.IsOrphaned())
	require.False(t, MarkerAllocatedCluster.IsOrphaned())
}

func TestMarker_CanTransitionTo(t *testing.T) {
	require.True(t, MarkerErasedSector.CanTransitionTo(MarkerFormattedSector))
	require.True(t, MarkerFormattedSector.CanTransitionTo(MarkerPendingCluster))
	require.True(t, MarkerPendingCluster.CanTransitionTo(MarkerAllocatedCluster))
	require.True(t, MarkerAllocatedCluster.CanTransitionTo(MarkerOrphanedCluster))

	// Illegal: would require setting a bit that is currently clear.
	require.False(t, MarkerOrphanedCluster.CanTransitionTo(MarkerAllocatedCluster))
	require.False(t, MarkerAllocatedCluster.CanTransitionTo(MarkerFormattedSector))
}

func TestMarker_String(t *testing.T) {
	require.Equal(t, "AllocatedCluster", MarkerAllocatedCluster.String())
	require.Contains(t, Marker(0x55).String(), "0x55")
}
