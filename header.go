// This file manages the low-level, on-disk cluster header structures: the
// common header shared by every cluster and the extra, block-0-only fields
// that make a FileCluster asymmetric with the DataClusters that follow it.

package lumenfs

import (
	"time"

	"github.com/go-restruct/restruct"
)

const (
	// commonHeaderSize is marker(1) | obj_id(2) | block_id(2) | data_length(2).
	commonHeaderSize = 7

	// DataClusterHeaderSize is the on-disk header size of a block->=1 cluster.
	DataClusterHeaderSize = commonHeaderSize

	// MaxFilenameLength is the largest filename, in bytes, a FileCluster can
	// carry.
	MaxFilenameLength = 16

	// fileClusterExtraSize is filename_length(2) | filename(16) | creation_time(8).
	fileClusterExtraSize = 2 + MaxFilenameLength + 8

	// FileClusterHeaderSize is the on-disk header size of a block-0 cluster.
	FileClusterHeaderSize = commonHeaderSize + fileClusterExtraSize

	// FilenameLengthOffset is the byte offset, within a cluster buffer, of
	// the filename_length field.
	FilenameLengthOffset = commonHeaderSize
)

var defaultEncoding = restruct.LittleEndian

// commonHeader is the fixed-width prefix shared by every cluster on disk.
type commonHeader struct {
	Marker     uint8
	ObjID      uint16
	BlockID    uint16
	DataLength uint16
}

// fileClusterExtra is the additional fixed-width fields that follow the
// common header on a block-0 (FileCluster) cluster.
type fileClusterExtra struct {
	FilenameLength uint16
	Filename       [MaxFilenameLength]byte
	CreationTime   uint64
}

func decodeCommonHeader(raw []byte) (ch commonHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if len(raw) < commonHeaderSize {
		panicKind(ErrorKindInternal, "buffer too small for common header: (%d) < (%d)", len(raw), commonHeaderSize)
	}

	err = restruct.Unpack(raw[:commonHeaderSize], defaultEncoding, &ch)
	if err != nil {
		panicKind(ErrorKindInternal, "failed to decode common header: %v", err)
	}

	return ch, nil
}

func encodeCommonHeader(ch commonHeader) (raw []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	raw, err = restruct.Pack(defaultEncoding, &ch)
	if err != nil {
		panicKind(ErrorKindInternal, "failed to encode common header: %v", err)
	}

	return raw, nil
}

func decodeFileClusterExtra(raw []byte) (fce fileClusterExtra, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if len(raw) < fileClusterExtraSize {
		panicKind(ErrorKindInternal, "buffer too small for file-cluster extra: (%d) < (%d)", len(raw), fileClusterExtraSize)
	}

	err = restruct.Unpack(raw[:fileClusterExtraSize], defaultEncoding, &fce)
	if err != nil {
		panicKind(ErrorKindInternal, "failed to decode file-cluster extra: %v", err)
	}

	return fce, nil
}

func encodeFileClusterExtra(fce fileClusterExtra) (raw []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	raw, err = restruct.Pack(defaultEncoding, &fce)
	if err != nil {
		panicKind(ErrorKindInternal, "failed to encode file-cluster extra: %v", err)
	}

	return raw, nil
}

// ClusterBuffer is a fixed-size, in-memory view over one cluster's bytes. It
// is the sole encoder/decoder of on-device bytes; it performs no I/O itself.
type ClusterBuffer struct {
	geometry Geometry
	buf      []byte
	maxWrite int
}

// NewClusterBuffer allocates a cluster-sized scratch buffer for the given
// geometry.
func NewClusterBuffer(g Geometry) *ClusterBuffer {
	return &ClusterBuffer{
		geometry: g,
		buf:      make([]byte, g.ClusterSize),
	}
}

// Reset zeroes the buffer and the write cursor so it can be reused for a
// fresh cluster.
func (cb *ClusterBuffer) Reset() {
	for i := range cb.buf {
		cb.buf[i] = 0
	}

	cb.maxWrite = 0
}

// Bytes returns the full, cluster-sized backing array, suitable for handing
// straight to a BlockDriver.WriteAt call.
func (cb *ClusterBuffer) Bytes() []byte {
	return cb.buf
}

// MaxWrite returns how many bytes are currently meaningful in the buffer.
func (cb *ClusterBuffer) MaxWrite() int {
	return cb.maxWrite
}

// LoadFrom copies geometry.ClusterSize bytes from src into the buffer,
// typically straight off of BlockDriver.ReadAt.
func (cb *ClusterBuffer) LoadFrom(src []byte) {
	copy(cb.buf, src)
	cb.maxWrite = len(cb.buf)
}

// Marker returns the leading status byte.
func (cb *ClusterBuffer) Marker() Marker {
	return Marker(cb.buf[0])
}

// SetMarker overwrites the leading status byte.
func (cb *ClusterBuffer) SetMarker(m Marker) {
	cb.buf[0] = uint8(m)

	if cb.maxWrite < 1 {
		cb.maxWrite = 1
	}
}

func (cb *ClusterBuffer) header() (ch commonHeader, err error) {
	return decodeCommonHeader(cb.buf)
}

// ObjID returns the object-id field.
func (cb *ClusterBuffer) ObjID() (uint16, error) {
	ch, err := cb.header()
	if err != nil {
		return 0, err
	}

	return ch.ObjID, nil
}

// BlockID returns the block-id field.
func (cb *ClusterBuffer) BlockID() (uint16, error) {
	ch, err := cb.header()
	if err != nil {
		return 0, err
	}

	return ch.BlockID, nil
}

// DataLength returns the data-length field.
func (cb *ClusterBuffer) DataLength() (uint16, error) {
	ch, err := cb.header()
	if err != nil {
		return 0, err
	}

	return ch.DataLength, nil
}

// IsBlockZero indicates whether this cluster is the first (FileCluster)
// block of its file.
func (cb *ClusterBuffer) IsBlockZero() (bool, error) {
	blockID, err := cb.BlockID()
	if err != nil {
		return false, err
	}

	return blockID == 0, nil
}

// SetCommonHeader writes the marker, object-id, block-id, and data-length
// fields in one shot.
func (cb *ClusterBuffer) SetCommonHeader(m Marker, objID, blockID, dataLength uint16) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	ch := commonHeader{
		Marker:     uint8(m),
		ObjID:      objID,
		BlockID:    blockID,
		DataLength: dataLength,
	}

	raw, err := encodeCommonHeader(ch)
	if err != nil {
		return err
	}

	copy(cb.buf, raw)

	if cb.maxWrite < commonHeaderSize {
		cb.maxWrite = commonHeaderSize
	}

	return nil
}

// SetDataLength rewrites only the data-length field, leaving the rest of the
// header untouched.
func (cb *ClusterBuffer) SetDataLength(dataLength uint16) (err error) {
	ch, err := cb.header()
	if err != nil {
		return err
	}

	ch.DataLength = dataLength

	raw, err := encodeCommonHeader(ch)
	if err != nil {
		return err
	}

	copy(cb.buf, raw)

	return nil
}

// fileClusterExtraOffset is where filename_length/filename/creation_time
// begin, immediately after the common header.
const fileClusterExtraOffset = commonHeaderSize

// Filename decodes the filename field of a block-0 cluster.
func (cb *ClusterBuffer) Filename() (string, error) {
	fce, err := decodeFileClusterExtra(cb.buf[fileClusterExtraOffset:])
	if err != nil {
		return "", err
	}

	n := int(fce.FilenameLength)
	if n > MaxFilenameLength {
		n = MaxFilenameLength
	}

	return string(fce.Filename[:n]), nil
}

// CreationTime decodes the creation-time field of a block-0 cluster.
func (cb *ClusterBuffer) CreationTime() (time.Time, error) {
	fce, err := decodeFileClusterExtra(cb.buf[fileClusterExtraOffset:])
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(0, int64(fce.CreationTime)).UTC(), nil
}

// SetFileClusterExtra writes the filename and creation-time fields of a
// block-0 cluster. name must already have been validated to fit within
// MaxFilenameLength bytes.
func (cb *ClusterBuffer) SetFileClusterExtra(name string, createdAt time.Time) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if len(name) > MaxFilenameLength {
		panicKind(ErrorKindArgumentOutOfRange, "filename too long: (%d) > (%d)", len(name), MaxFilenameLength)
	}

	var fce fileClusterExtra
	fce.FilenameLength = uint16(len(name))
	copy(fce.Filename[:], name)
	fce.CreationTime = uint64(createdAt.UnixNano())

	raw, err := encodeFileClusterExtra(fce)
	if err != nil {
		return err
	}

	copy(cb.buf[fileClusterExtraOffset:], raw)

	if cb.maxWrite < fileClusterExtraOffset+fileClusterExtraSize {
		cb.maxWrite = fileClusterExtraOffset + fileClusterExtraSize
	}

	return nil
}

// DataOffset returns the byte offset, within the cluster buffer, at which
// the payload begins -- it differs between block-0 (FileCluster) and
// block->=1 (DataCluster) clusters because of the filename/creation-time
// fields block 0 carries.
func (cb *ClusterBuffer) DataOffset() (int, error) {
	isZero, err := cb.IsBlockZero()
	if err != nil {
		return 0, err
	}

	if isZero {
		return FileClusterHeaderSize, nil
	}

	return DataClusterHeaderSize, nil
}

// FileClusterMaxDataLength returns the payload capacity of a block-0
// cluster for the given geometry.
func FileClusterMaxDataLength(g Geometry) int {
	return g.ClusterSize - FileClusterHeaderSize
}

// DataClusterMaxDataLength returns the payload capacity of a block->=1
// cluster for the given geometry.
func DataClusterMaxDataLength(g Geometry) int {
	return g.ClusterSize - DataClusterHeaderSize
}

// Payload returns the slice of the buffer holding the first dataLength bytes
// of payload, where dataLength is the cluster's own DataLength field.
func (cb *ClusterBuffer) Payload() (data []byte, err error) {
	dataOffset, err := cb.DataOffset()
	if err != nil {
		return nil, err
	}

	dataLength, err := cb.DataLength()
	if err != nil {
		return nil, err
	}

	return cb.buf[dataOffset : dataOffset+int(dataLength)], nil
}

// WritePayload overlays data at the given offset within the payload region
// and advances the write cursor. It does not change DataLength; callers set
// that through SetCommonHeader or SetDataLength.
func (cb *ClusterBuffer) WritePayload(offsetIntoPayload int, data []byte) (err error) {
	dataOffset, err := cb.DataOffset()
	if err != nil {
		return err
	}

	copy(cb.buf[dataOffset+offsetIntoPayload:], data)

	end := dataOffset + offsetIntoPayload + len(data)
	if end > cb.maxWrite {
		cb.maxWrite = end
	}

	return nil
}
