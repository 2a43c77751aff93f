package lumenfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testGeometry() Geometry {
	return Geometry{
		DeviceSize:  4096 * 8,
		SectorSize:  4096,
		ClusterSize: 512,
	}
}

func TestGeometry_Derived(t *testing.T) {
	g := testGeometry()

	require.Equal(t, 8, g.ClustersPerSector())
	require.Equal(t, 64, g.TotalClusterCount())
	require.Equal(t, 8, g.TotalSectorCount())
}

func TestGeometry_SectorOf(t *testing.T) {
	g := testGeometry()

	require.Equal(t, uint16(0), g.SectorOf(0))
	require.Equal(t, uint16(0), g.SectorOf(7))
	require.Equal(t, uint16(1), g.SectorOf(8))
	require.Equal(t, uint16(7), g.SectorOf(63))
}

func TestGeometry_IsSectorHead(t *testing.T) {
	g := testGeometry()

	require.True(t, g.IsSectorHead(0))
	require.True(t, g.IsSectorHead(8))
	require.False(t, g.IsSectorHead(1))
	require.False(t, g.IsSectorHead(9))
}

func TestGeometry_FirstClusterOfSector(t *testing.T) {
	g := testGeometry()

	require.Equal(t, uint16(0), g.FirstClusterOfSector(0))
	require.Equal(t, uint16(16), g.FirstClusterOfSector(2))
}

func TestGeometry_Validate_Ok(t *testing.T) {
	g := testGeometry()

	err := g.Validate()
	require.NoError(t, err)
}

func TestGeometry_Validate_ClusterDoesNotDivideSector(t *testing.T) {
	g := testGeometry()
	g.ClusterSize = 500

	err := g.Validate()
	require.Error(t, err)

	lerr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrorKindArgumentOutOfRange, lerr.Kind())
}

func TestGeometry_Validate_DeviceNotWholeSectors(t *testing.T) {
	g := testGeometry()
	g.DeviceSize = 4096*8 + 1

	err := g.Validate()
	require.Error(t, err)
}

func TestGeometry_Validate_TooManyClusters(t *testing.T) {
	g := Geometry{
		DeviceSize:  int64(0x10000) * 512,
		SectorSize:  512,
		ClusterSize: 512,
	}

	err := g.Validate()
	require.Error(t, err)
}

func TestGeometry_Validate_NeedsAtLeastTwoClustersPerSector(t *testing.T) {
	g := testGeometry()
	g.ClusterSize = g.SectorSize

	err := g.Validate()
	require.Error(t, err)
}
