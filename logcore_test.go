package lumenfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func smallGeometry() Geometry {
	return Geometry{
		DeviceSize:  4096 * 4,
		SectorSize:  4096,
		ClusterSize: 512,
	}
}

func newFormattedLogCore(t *testing.T) (*LogCore, BlockDriver) {
	g := smallGeometry()
	md := NewMemoryBlockDriver(g)

	lc := NewLogCore(md)

	err := lc.Format()
	require.NoError(t, err)

	return lc, md
}

func TestLogCore_Format(t *testing.T) {
	lc, _ := newFormattedLogCore(t)

	require.True(t, lc.IsMounted())
	require.Equal(t, lc.geometry.TotalClusterCount(), lc.freeClusterCount)
	require.Equal(t, 0, lc.orphanedClusterCount)
	require.Equal(t, uint16(0), lc.headSectorID)
	require.Equal(t, uint16(0), lc.tailClusterID)

	formatted, err := lc.CheckIfFormatted()
	require.NoError(t, err)
	require.True(t, formatted)
}

func TestLogCore_MountRoundTrip(t *testing.T) {
	lc, md := newFormattedLogCore(t)

	cb := NewClusterBuffer(lc.geometry)

	err := cb.SetCommonHeader(MarkerPendingCluster, 1, 0, 5)
	require.NoError(t, err)

	err = cb.SetFileClusterExtra("a.txt", time.Now())
	require.NoError(t, err)

	err = cb.WritePayload(0, []byte("hello"))
	require.NoError(t, err)

	clusterID, err := lc.Append(cb)
	require.NoError(t, err)

	err = lc.MarkClusterAllocated(clusterID)
	require.NoError(t, err)

	lc2 := NewLogCore(md)

	err = lc2.Mount()
	require.NoError(t, err)

	require.Len(t, lc2.filesIndex, 1)

	fr, found := lc2.filesIndex[1]
	require.True(t, found)
	require.Equal(t, "a.txt", fr.Name)
	require.Equal(t, uint32(5), fr.FileSize)
	require.Equal(t, []uint16{clusterID}, fr.Blocks)

	require.Equal(t, lc.freeClusterCount, lc2.freeClusterCount)
	require.Equal(t, lc.tailClusterID, lc2.tailClusterID)
	require.Equal(t, lc.headSectorID, lc2.headSectorID)
}

func TestLogCore_MountFailsOnIllegalMarker(t *testing.T) {
	g := smallGeometry()
	md := NewMemoryBlockDriver(g)

	// Never formatted: every sector head is still MarkerErasedSector, which
	// is not a legal sector-head marker.
	lc := NewLogCore(md)

	err := lc.Mount()
	require.Error(t, err)

	lerr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrorKindNotFormatted, lerr.Kind())
}

func TestLogCore_MarkClusterOrphanedUpdatesAccounting(t *testing.T) {
	lc, _ := newFormattedLogCore(t)

	cb := NewClusterBuffer(lc.geometry)
	err := cb.SetCommonHeader(MarkerPendingCluster, 1, 0, 0)
	require.NoError(t, err)
	err = cb.SetFileClusterExtra("a.txt", time.Now())
	require.NoError(t, err)

	clusterID, err := lc.Append(cb)
	require.NoError(t, err)

	err = lc.MarkClusterAllocated(clusterID)
	require.NoError(t, err)

	err = lc.MarkClusterOrphaned(clusterID)
	require.NoError(t, err)

	require.Equal(t, 1, lc.orphanedClusterCount)
	require.Equal(t, 1, lc.orphanedPerSector[lc.geometry.SectorOf(clusterID)])
}

func TestLogCore_CompactReclaimsOrphans(t *testing.T) {
	lc, md := newFormattedLogCore(t)

	clustersPerSector := lc.geometry.ClustersPerSector()

	// Fill the whole head sector with clusters we immediately orphan, so the
	// tail moves on to the next sector and GetSectorToCompact has a real
	// candidate distinct from the tail.
	var orphaned []uint16

	for i := 0; i < clustersPerSector; i++ {
		cb := NewClusterBuffer(lc.geometry)

		err := cb.SetCommonHeader(MarkerPendingCluster, uint16(i+1), 0, 0)
		require.NoError(t, err)

		err = cb.SetFileClusterExtra("x.txt", time.Now())
		require.NoError(t, err)

		clusterID, err := lc.Append(cb)
		require.NoError(t, err)

		err = lc.MarkClusterAllocated(clusterID)
		require.NoError(t, err)

		err = lc.MarkClusterOrphaned(clusterID)
		require.NoError(t, err)

		orphaned = append(orphaned, clusterID)
	}

	require.Equal(t, len(orphaned), lc.orphanedClusterCount)

	freeBefore := lc.freeClusterCount

	err := lc.Compact()
	require.NoError(t, err)

	require.Equal(t, 0, lc.orphanedClusterCount)
	require.Greater(t, lc.freeClusterCount, freeBefore-1)

	for s := range lc.orphanedPerSector {
		require.Equal(t, 0, lc.orphanedPerSector[s])
	}

	// The reclaimed sector must read back as all-erased-or-formatted.
	for i := 0; i < clustersPerSector; i++ {
		raw := make([]byte, 1)

		err = md.ReadAt(uint16(i), 0, raw)
		require.NoError(t, err)
		require.True(t, Marker(raw[0]).IsFree())
	}
}

func TestLogCore_MigrateSectorRejectsTailSector(t *testing.T) {
	lc, _ := newFormattedLogCore(t)

	tailSector := lc.geometry.SectorOf(lc.tailClusterID)

	err := lc.MigrateSector(tailSector)
	require.Error(t, err)
}

// appendLiveCluster appends and allocates a single block-0 cluster for
// objID, leaving it live (not orphaned). It returns the cluster id.
func appendLiveCluster(t *testing.T, lc *LogCore, objID uint16) uint16 {
	cb := NewClusterBuffer(lc.geometry)

	err := cb.SetCommonHeader(MarkerPendingCluster, objID, 0, 0)
	require.NoError(t, err)

	err = cb.SetFileClusterExtra("x.txt", time.Now())
	require.NoError(t, err)

	clusterID, err := lc.Append(cb)
	require.NoError(t, err)

	err = lc.MarkClusterAllocated(clusterID)
	require.NoError(t, err)

	return clusterID
}

// TestLogCore_PartialCompactReclaimsSpaceAtDiskFullThreshold reproduces the
// scenario where the device has just reached the free-cluster reserve
// threshold and the sector PartialCompact needs to migrate still holds one
// live cluster alongside its orphans. Relocating that live cluster calls
// Append re-entrantly while compacting is in progress; that inner Append
// must not itself refuse for being at or under the threshold, since the
// threshold exists precisely to give compaction room to work.
func TestLogCore_PartialCompactReclaimsSpaceAtDiskFullThreshold(t *testing.T) {
	lc, _ := newFormattedLogCore(t)

	clustersPerSector := lc.geometry.ClustersPerSector()
	require.Equal(t, 8, clustersPerSector)

	// Fill sector 0 and sector 1 completely with live clusters, bringing
	// free clusters down to exactly minFreeClusters (16 of 32).
	for objID := uint16(1); objID <= uint16(2*clustersPerSector); objID++ {
		appendLiveCluster(t, lc, objID)
	}

	require.Equal(t, lc.minFreeClusters, lc.freeClusterCount)

	// Simulate deleting most, but not all, of the files living in sector 0:
	// orphan its first 7 clusters and one cluster from sector 1, leaving
	// sector 0's 8th cluster (obj_id 8) the sole survivor that compaction
	// will have to relocate.
	for _, clusterID := range []uint16{0, 1, 2, 3, 4, 5, 6, 8} {
		err := lc.MarkClusterOrphaned(clusterID)
		require.NoError(t, err)
	}

	require.Equal(t, 8, lc.orphanedClusterCount)

	// The next Append sits right at the threshold: without compaction it
	// would be a hard DiskFull, and the live relocation inside the
	// triggered PartialCompact must not panic DiskFull either.
	cb := NewClusterBuffer(lc.geometry)

	err := cb.SetCommonHeader(MarkerPendingCluster, 999, 0, 0)
	require.NoError(t, err)

	err = cb.SetFileClusterExtra("new.txt", time.Now())
	require.NoError(t, err)

	clusterID, err := lc.Append(cb)
	require.NoError(t, err)

	err = lc.MarkClusterAllocated(clusterID)
	require.NoError(t, err)

	require.Greater(t, lc.freeClusterCount, lc.minFreeClusters)
	require.Equal(t, 0, lc.orphanedPerSector[0])
}

func TestLogCore_NextObjIDIsMonotonic(t *testing.T) {
	lc, _ := newFormattedLogCore(t)

	a := lc.NextObjID()
	b := lc.NextObjID()

	require.Greater(t, b, a)
}
