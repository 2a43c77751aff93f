package lumenfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryBlockDriver_ErasedIsAllOnes(t *testing.T) {
	g := testGeometry()
	md := NewMemoryBlockDriver(g)

	buf := make([]byte, g.ClusterSize)
	err := md.ReadAt(0, 0, buf)
	require.NoError(t, err)

	for _, b := range buf {
		require.Equal(t, byte(0xff), b)
	}
}

func TestMemoryBlockDriver_WriteAtIsBitClearOnly(t *testing.T) {
	g := testGeometry()
	md := NewMemoryBlockDriver(g)

	err := md.WriteAt(0, 0, []byte{0x0f})
	require.NoError(t, err)

	// Writing a value with bits set that are already clear must not set
	// them back.
	err = md.WriteAt(0, 0, []byte{0xff})
	require.NoError(t, err)

	buf := make([]byte, 1)
	err = md.ReadAt(0, 0, buf)
	require.NoError(t, err)
	require.Equal(t, byte(0x0f), buf[0])
}

func TestMemoryBlockDriver_EraseSectorRestoresOnes(t *testing.T) {
	g := testGeometry()
	md := NewMemoryBlockDriver(g)

	err := md.WriteAt(0, 0, []byte{0x00})
	require.NoError(t, err)

	err = md.EraseSector(0)
	require.NoError(t, err)

	buf := make([]byte, 1)
	err = md.ReadAt(0, 0, buf)
	require.NoError(t, err)
	require.Equal(t, byte(0xff), buf[0])
}

func TestMemoryBlockDriver_OutOfRangeClusterFails(t *testing.T) {
	g := testGeometry()
	md := NewMemoryBlockDriver(g)

	buf := make([]byte, 1)
	err := md.ReadAt(uint16(g.TotalClusterCount()), 0, buf)
	require.Error(t, err)
}

func TestMemoryBlockDriver_FaultInjectionTruncatesWrite(t *testing.T) {
	g := testGeometry()
	md := NewMemoryBlockDriver(g)

	md.SetFault(func(clusterID uint16, offset int, src []byte) (bool, int) {
		return true, 2
	})

	err := md.WriteAt(0, 0, []byte{0x00, 0x00, 0x00, 0x00})
	require.NoError(t, err)

	buf := make([]byte, 4)
	err = md.ReadAt(0, 0, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0xff, 0xff}, buf)
}
