package lumenfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClusterBuffer_FileClusterRoundTrip(t *testing.T) {
	g := testGeometry()

	cb := NewClusterBuffer(g)

	createdAt := time.Unix(1700000000, 0).UTC()

	err := cb.SetCommonHeader(MarkerPendingCluster, 1, 0, 5)
	require.NoError(t, err)

	err = cb.SetFileClusterExtra("hello.txt", createdAt)
	require.NoError(t, err)

	err = cb.WritePayload(0, []byte("world"))
	require.NoError(t, err)

	objID, err := cb.ObjID()
	require.NoError(t, err)
	require.Equal(t, uint16(1), objID)

	blockID, err := cb.BlockID()
	require.NoError(t, err)
	require.Equal(t, uint16(0), blockID)

	isZero, err := cb.IsBlockZero()
	require.NoError(t, err)
	require.True(t, isZero)

	name, err := cb.Filename()
	require.NoError(t, err)
	require.Equal(t, "hello.txt", name)

	gotCreatedAt, err := cb.CreationTime()
	require.NoError(t, err)
	require.True(t, gotCreatedAt.Equal(createdAt))

	payload, err := cb.Payload()
	require.NoError(t, err)
	require.Equal(t, []byte("world"), payload)

	dataOffset, err := cb.DataOffset()
	require.NoError(t, err)
	require.Equal(t, FileClusterHeaderSize, dataOffset)
}

func TestClusterBuffer_DataClusterRoundTrip(t *testing.T) {
	g := testGeometry()

	cb := NewClusterBuffer(g)

	err := cb.SetCommonHeader(MarkerAllocatedCluster, 7, 3, 4)
	require.NoError(t, err)

	err = cb.WritePayload(0, []byte("abcd"))
	require.NoError(t, err)

	isZero, err := cb.IsBlockZero()
	require.NoError(t, err)
	require.False(t, isZero)

	dataOffset, err := cb.DataOffset()
	require.NoError(t, err)
	require.Equal(t, DataClusterHeaderSize, dataOffset)

	payload, err := cb.Payload()
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), payload)
}

func TestClusterBuffer_SetDataLength(t *testing.T) {
	g := testGeometry()

	cb := NewClusterBuffer(g)

	err := cb.SetCommonHeader(MarkerAllocatedCluster, 1, 1, 4)
	require.NoError(t, err)

	err = cb.SetDataLength(2)
	require.NoError(t, err)

	dataLength, err := cb.DataLength()
	require.NoError(t, err)
	require.Equal(t, uint16(2), dataLength)

	// Marker and ids must be untouched.
	require.Equal(t, MarkerAllocatedCluster, cb.Marker())

	objID, err := cb.ObjID()
	require.NoError(t, err)
	require.Equal(t, uint16(1), objID)
}

func TestClusterBuffer_SetFileClusterExtra_NameTooLong(t *testing.T) {
	g := testGeometry()

	cb := NewClusterBuffer(g)

	err := cb.SetFileClusterExtra("this-name-is-definitely-too-long.txt", time.Now())
	require.Error(t, err)

	lerr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrorKindArgumentOutOfRange, lerr.Kind())
}

func TestClusterBuffer_MaxDataLengths(t *testing.T) {
	g := testGeometry()

	require.Equal(t, g.ClusterSize-FileClusterHeaderSize, FileClusterMaxDataLength(g))
	require.Equal(t, g.ClusterSize-DataClusterHeaderSize, DataClusterMaxDataLength(g))
}
