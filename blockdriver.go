package lumenfs

// BlockDriver is the uniform contract LogCore consumes for reading,
// programming, and erasing the underlying medium. It is the one true
// polymorphism point in this package -- modeled as a small capability
// interface rather than a class hierarchy, the way the exfat reader this
// package grew from only ever needed an io.ReadSeeker.
//
// Implementations must be side-effect-accurate: a successful WriteAt is
// durable, and a successful EraseSector leaves every byte in that sector in
// the erased state (every bit set). A successful WriteAt must either
// complete in full or leave the device in a reliably-detectable partial
// state; in particular, callers rely on being able to program a cluster's
// marker byte last when committing it and first when invalidating it, so a
// torn write never corrupts a marker into an illegal value by surprise.
//
// Actual hardware NOR/NAND programming, wear-leveling below the sector
// level, and ECC are out of scope for this package -- BlockDriver is the
// seam where that real driver plugs in. MemoryBlockDriver and
// FileBlockDriver below are reference implementations sufficient to mount,
// exercise, and fsck a volume without real flash hardware.
type BlockDriver interface {
	// Geometry returns the fixed device/sector/cluster sizes this driver
	// was constructed with.
	Geometry() Geometry

	// ReadAt reads len(dst) bytes starting at the given byte offset within
	// clusterID into dst.
	ReadAt(clusterID uint16, offset int, dst []byte) error

	// WriteAt programs len(src) bytes of src starting at the given byte
	// offset within clusterID. Only bit-clearing transitions are valid
	// without an intervening erase; implementations are not required to
	// enforce this against arbitrary misuse; they are required to apply the
	// bytes as given.
	WriteAt(clusterID uint16, offset int, src []byte) error

	// EraseSector restores every byte of the given sector to the erased
	// state (0xff).
	EraseSector(sectorID uint16) error

	// EraseChip restores every byte of the device to the erased state.
	EraseChip() error
}
