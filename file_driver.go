package lumenfs

import (
	"os"

	"github.com/dsoprea/go-logging"
)

// FileBlockDriver wraps a flat-file flash image so a volume can be mounted,
// exercised, and fsck'd on a developer workstation without real hardware --
// analogous to how the exfat reader this package grew from is handed a bare
// io.ReadSeeker rather than a hardware abstraction.
type FileBlockDriver struct {
	geometry Geometry
	f        *os.File
}

// NewFileBlockDriver opens (or creates, if createIfMissing) path as a
// geometry-sized flash image and returns a driver over it.
func NewFileBlockDriver(path string, g Geometry, createIfMissing bool) (fbd *FileBlockDriver, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	flags := os.O_RDWR
	if createIfMissing == true {
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0644)
	log.PanicIf(err)

	info, err := f.Stat()
	log.PanicIf(err)

	if info.Size() != g.DeviceSize {
		err = f.Truncate(g.DeviceSize)
		log.PanicIf(err)

		if info.Size() == 0 {
			// Freshly created: initialize to the erased state rather than
			// leaving sparse NULs, which would look like an illegal marker
			// on mount.
			erased := make([]byte, g.DeviceSize)
			for i := range erased {
				erased[i] = 0xff
			}

			_, err = f.WriteAt(erased, 0)
			log.PanicIf(err)
		}
	}

	fbd = &FileBlockDriver{
		geometry: g,
		f:        f,
	}

	return fbd, nil
}

// Close releases the underlying file handle.
func (fbd *FileBlockDriver) Close() error {
	return fbd.f.Close()
}

// Geometry implements BlockDriver.
func (fbd *FileBlockDriver) Geometry() Geometry {
	return fbd.geometry
}

func (fbd *FileBlockDriver) clusterByteOffset(clusterID uint16) int64 {
	return int64(clusterID) * int64(fbd.geometry.ClusterSize)
}

// ReadAt implements BlockDriver.
func (fbd *FileBlockDriver) ReadAt(clusterID uint16, offset int, dst []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	at := fbd.clusterByteOffset(clusterID) + int64(offset)

	_, err = fbd.f.ReadAt(dst, at)
	log.PanicIf(err)

	return nil
}

// WriteAt implements BlockDriver.
func (fbd *FileBlockDriver) WriteAt(clusterID uint16, offset int, src []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	at := fbd.clusterByteOffset(clusterID) + int64(offset)

	// A regular file has no hardware-enforced bit-clearing-only semantics,
	// so, unlike MemoryBlockDriver, writes here are applied verbatim; the
	// marker-ordering discipline in LogCore is what keeps this safe on real
	// NOR/NAND, and is exercised against MemoryBlockDriver's stricter model
	// in tests.
	_, err = fbd.f.WriteAt(src, at)
	log.PanicIf(err)

	return nil
}

// EraseSector implements BlockDriver.
func (fbd *FileBlockDriver) EraseSector(sectorID uint16) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	erased := make([]byte, fbd.geometry.SectorSize)
	for i := range erased {
		erased[i] = 0xff
	}

	at := int64(sectorID) * int64(fbd.geometry.SectorSize)

	_, err = fbd.f.WriteAt(erased, at)
	log.PanicIf(err)

	return nil
}

// EraseChip implements BlockDriver.
func (fbd *FileBlockDriver) EraseChip() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	erased := make([]byte, fbd.geometry.SectorSize)
	for i := range erased {
		erased[i] = 0xff
	}

	for sectorID := 0; sectorID < fbd.geometry.TotalSectorCount(); sectorID++ {
		_, err = fbd.f.WriteAt(erased, int64(sectorID)*int64(fbd.geometry.SectorSize))
		log.PanicIf(err)
	}

	return nil
}
