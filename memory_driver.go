package lumenfs

import (
	"reflect"

	"github.com/dsoprea/go-logging"
)

// FaultFunc is invoked before every MemoryBlockDriver.WriteAt completes.
// Returning true tells the driver to apply only the first truncateAt bytes
// of the write and then report success, simulating a flash program that was
// interrupted by power loss partway through.
type FaultFunc func(clusterID uint16, offset int, src []byte) (inject bool, truncateAt int)

// MemoryBlockDriver is a []byte-backed BlockDriver for unit tests and
// crash-injection harnesses. It needs no real flash hardware and optionally
// tears its own writes to simulate power loss.
type MemoryBlockDriver struct {
	geometry Geometry
	data     []byte
	fault    FaultFunc
}

// NewMemoryBlockDriver allocates an in-memory device of the given geometry,
// fully erased (every byte 0xff).
func NewMemoryBlockDriver(g Geometry) *MemoryBlockDriver {
	data := make([]byte, g.DeviceSize)
	for i := range data {
		data[i] = 0xff
	}

	return &MemoryBlockDriver{
		geometry: g,
		data:     data,
	}
}

// SetFault installs (or, given nil, clears) a fault-injection hook.
func (md *MemoryBlockDriver) SetFault(fault FaultFunc) {
	md.fault = fault
}

// Geometry implements BlockDriver.
func (md *MemoryBlockDriver) Geometry() Geometry {
	return md.geometry
}

func (md *MemoryBlockDriver) clusterByteOffset(clusterID uint16) int {
	return int(clusterID) * md.geometry.ClusterSize
}

// ReadAt implements BlockDriver.
func (md *MemoryBlockDriver) ReadAt(clusterID uint16, offset int, dst []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if int(clusterID) >= md.geometry.TotalClusterCount() {
		panicKind(ErrorKindInternal, "cluster id out of range: (%d) >= (%d)", clusterID, md.geometry.TotalClusterCount())
	}

	base := md.clusterByteOffset(clusterID) + offset
	if base < 0 || base+len(dst) > len(md.data) {
		panicKind(ErrorKindInternal, "read out of bounds: cluster=(%d) offset=(%d) len=(%d)", clusterID, offset, len(dst))
	}

	copy(dst, md.data[base:base+len(dst)])

	return nil
}

// WriteAt implements BlockDriver.
func (md *MemoryBlockDriver) WriteAt(clusterID uint16, offset int, src []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	if int(clusterID) >= md.geometry.TotalClusterCount() {
		panicKind(ErrorKindInternal, "cluster id out of range: (%d) >= (%d)", clusterID, md.geometry.TotalClusterCount())
	}

	applied := src
	if md.fault != nil {
		if inject, truncateAt := md.fault(clusterID, offset, src); inject == true {
			if truncateAt < 0 {
				truncateAt = 0
			}

			if truncateAt > len(src) {
				truncateAt = len(src)
			}

			applied = src[:truncateAt]
		}
	}

	base := md.clusterByteOffset(clusterID) + offset
	if base < 0 || base+len(src) > len(md.data) {
		panicKind(ErrorKindInternal, "write out of bounds: cluster=(%d) offset=(%d) len=(%d)", clusterID, offset, len(src))
	}

	// Enforce bit-clearing-only semantics: a real NOR/NAND cell can never
	// have a write set a bit that was previously clear.
	for i, b := range applied {
		md.data[base+i] &= b
	}

	return nil
}

// EraseSector implements BlockDriver.
func (md *MemoryBlockDriver) EraseSector(sectorID uint16) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if int(sectorID) >= md.geometry.TotalSectorCount() {
		panicKind(ErrorKindInternal, "sector id out of range: (%d) >= (%d)", sectorID, md.geometry.TotalSectorCount())
	}

	start := int(sectorID) * md.geometry.SectorSize
	end := start + md.geometry.SectorSize

	for i := start; i < end; i++ {
		md.data[i] = 0xff
	}

	return nil
}

// EraseChip implements BlockDriver.
func (md *MemoryBlockDriver) EraseChip() error {
	for i := range md.data {
		md.data[i] = 0xff
	}

	return nil
}
