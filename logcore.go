// This file implements the mount-time scan that reconstructs the in-memory
// file index from the raw medium, the append-only write-ahead log and its
// head/tail pointers and free-space accounting, and the compactor that
// reclaims orphaned clusters while preserving crash safety.

package lumenfs

import (
	"time"
)

// FileRef is the in-memory-only record of one file: its stable object-id,
// its dense block_id -> cluster_id mapping, its size, and how many handles
// currently have it open.
type FileRef struct {
	ObjID      uint16
	Name       string
	CreatedAt  time.Time
	Blocks     []uint16
	FileSize   uint32
	OpenCount  int
}

// LogCore owns the append-only log: the head/tail pointers, the free and
// orphan accounting, and the compactor. It is the sole component that talks
// to the BlockDriver.
type LogCore struct {
	geometry Geometry
	driver   BlockDriver

	cluster      *ClusterBuffer
	defragBuffer *ClusterBuffer

	filesIndex map[uint16]*FileRef

	headSectorID  uint16
	tailClusterID uint16

	freeClusterCount     int
	orphanedClusterCount int
	orphanedPerSector    []int

	lastObjID uint16

	minFreeClusters int

	mounted    bool
	compacting bool
}

// NewLogCore constructs a LogCore over the given driver, preallocating the
// two cluster-sized scratch buffers the locked region exclusively holds for
// the duration of every operation.
func NewLogCore(driver BlockDriver) *LogCore {
	g := driver.Geometry()

	return &LogCore{
		geometry: g,
		driver:   driver,

		cluster:      NewClusterBuffer(g),
		defragBuffer: NewClusterBuffer(g),

		filesIndex: make(map[uint16]*FileRef),

		minFreeClusters: 2 * g.ClustersPerSector(),
	}
}

// IsMounted indicates whether Mount or Format has succeeded.
func (lc *LogCore) IsMounted() bool {
	return lc.mounted
}

// Files returns the live file index. Callers must not retain the map past
// the locked operation that obtained it.
func (lc *LogCore) Files() map[uint16]*FileRef {
	return lc.filesIndex
}

// Stats returns the free and orphaned byte counts implied by the current
// cluster accounting.
func (lc *LogCore) Stats() (freeBytes, orphanedBytes int64) {
	clusterSize := int64(lc.geometry.ClusterSize)
	return int64(lc.freeClusterCount) * clusterSize, int64(lc.orphanedClusterCount) * clusterSize
}

func (lc *LogCore) readMarker(clusterID uint16) (m Marker, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	var raw [1]byte

	rErr := lc.driver.ReadAt(clusterID, 0, raw[:])
	if rErr != nil {
		panicKind(ErrorKindInternal, "failed to read marker at cluster (%d): %v", clusterID, rErr)
	}

	return Marker(raw[0]), nil
}

func (lc *LogCore) readCommonHeader(clusterID uint16) (ch commonHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	raw := make([]byte, commonHeaderSize)

	rErr := lc.driver.ReadAt(clusterID, 0, raw)
	if rErr != nil {
		panicKind(ErrorKindInternal, "failed to read header at cluster (%d): %v", clusterID, rErr)
	}

	ch, err = decodeCommonHeader(raw)
	if err != nil {
		return ch, err
	}

	return ch, nil
}

func (lc *LogCore) readFileClusterExtra(clusterID uint16) (fce fileClusterExtra, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	raw := make([]byte, fileClusterExtraSize)

	rErr := lc.driver.ReadAt(clusterID, fileClusterExtraOffset, raw)
	if rErr != nil {
		panicKind(ErrorKindInternal, "failed to read file-cluster extra at cluster (%d): %v", clusterID, rErr)
	}

	fce, err = decodeFileClusterExtra(raw)
	if err != nil {
		return fce, err
	}

	return fce, nil
}

func (lc *LogCore) loadCluster(clusterID uint16, cb *ClusterBuffer) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	rErr := lc.driver.ReadAt(clusterID, 0, cb.buf)
	if rErr != nil {
		panicKind(ErrorKindInternal, "failed to read cluster (%d): %v", clusterID, rErr)
	}

	cb.maxWrite = len(cb.buf)

	return nil
}

func (lc *LogCore) writeMarker(clusterID uint16, m Marker) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	rErr := lc.driver.WriteAt(clusterID, 0, []byte{uint8(m)})
	if rErr != nil {
		panicKind(ErrorKindInternal, "failed to write marker at cluster (%d): %v", clusterID, rErr)
	}

	return nil
}

// Format erases the whole chip, claims every sector with a FormattedSector
// marker, and resets every accounting structure. It fails if any currently-
// indexed file still has outstanding open handles.
func (lc *LogCore) Format() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	for _, fr := range lc.filesIndex {
		if fr.OpenCount > 0 {
			panicKind(ErrorKindFileInUse, "cannot format while object (%d) is open", fr.ObjID)
		}
	}

	rErr := lc.driver.EraseChip()
	if rErr != nil {
		panicKind(ErrorKindInternal, "chip erase failed: %v", rErr)
	}

	totalSectors := lc.geometry.TotalSectorCount()
	for s := 0; s < totalSectors; s++ {
		firstCluster := lc.geometry.FirstClusterOfSector(uint16(s))

		rErr := lc.driver.WriteAt(firstCluster, 0, []byte{uint8(MarkerFormattedSector)})
		if rErr != nil {
			panicKind(ErrorKindInternal, "failed to claim sector (%d): %v", s, rErr)
		}
	}

	lc.headSectorID = 0
	lc.tailClusterID = 0
	lc.freeClusterCount = lc.geometry.TotalClusterCount()
	lc.orphanedClusterCount = 0
	lc.orphanedPerSector = make([]int, totalSectors)
	lc.filesIndex = make(map[uint16]*FileRef)
	lc.lastObjID = 0
	lc.mounted = true

	return nil
}

// CheckIfFormatted performs the lightweight check the public API exposes
// without reconstructing the full file index: it confirms the first sector
// carries one of the legal sector-head markers.
func (lc *LogCore) CheckIfFormatted() (bool, error) {
	m, err := lc.readMarker(0)
	if err != nil {
		return false, err
	}

	return m.IsLegalSectorHead(), nil
}

// scanState tracks the head/tail candidate state machine used by Mount to
// find the unique head/tail pair of a circular log in a single linear pass.
type scanState struct {
	headCandidate int64
	tailCandidate int64
}

func newScanState() *scanState {
	return &scanState{headCandidate: -1, tailCandidate: -1}
}

// observe feeds one logical free/in-use cluster into the state machine. A
// hole (free cluster) after in-use data sets the tail candidate; in-use data
// resuming after a hole means that hole was transient, so the tail candidate
// is dropped and the in-use run is treated as still ongoing.
func (ss *scanState) observe(clusterID uint16, inUse bool) {
	if inUse {
		if ss.headCandidate == -1 {
			ss.headCandidate = int64(clusterID)
			ss.tailCandidate = -1
		} else if ss.tailCandidate != -1 {
			ss.tailCandidate = -1
		}
	} else {
		if ss.headCandidate != -1 && ss.tailCandidate == -1 {
			ss.tailCandidate = int64(clusterID)
		}
	}
}

// Mount walks every cluster in id order exactly once, reconstructing the
// file index, the head/tail pointers, and the free/orphan accounting from
// nothing but the marker-byte discipline on disk.
func (lc *LogCore) Mount() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			lc.mounted = false
			err = asLumenError(errRaw)
		}
	}()

	clustersPerSector := lc.geometry.ClustersPerSector()
	totalClusters := lc.geometry.TotalClusterCount()
	totalSectors := lc.geometry.TotalSectorCount()

	orphanedPerSector := make([]int, totalSectors)
	freeClusterCount := 0
	orphanedClusterCount := 0
	lastObjID := uint16(0)

	type scannedFile struct {
		blocks    map[uint16]uint16
		fileSize  uint32
		name      string
		createdAt time.Time
	}

	scanned := make(map[uint16]*scannedFile)
	ss := newScanState()

	i := 0
	for i < totalClusters {
		clusterID := uint16(i)

		if lc.geometry.IsSectorHead(clusterID) {
			m, mErr := lc.readMarker(clusterID)
			if mErr != nil {
				return mErr
			}

			if m.IsLegalSectorHead() == false {
				panicKind(ErrorKindNotFormatted, "illegal sector-head marker at cluster (%d): %s", clusterID, m)
			}

			if m == MarkerFormattedSector {
				freeClusterCount += clustersPerSector
				ss.observe(clusterID, false)
				i += clustersPerSector
				continue
			}
		}

		ch, chErr := lc.readCommonHeader(clusterID)
		if chErr != nil {
			return chErr
		}

		m := Marker(ch.Marker)

		switch {
		case m == MarkerAllocatedCluster:
			ss.observe(clusterID, true)

			sf, found := scanned[ch.ObjID]
			if found == false {
				sf = &scannedFile{blocks: make(map[uint16]uint16)}
				scanned[ch.ObjID] = sf
			}

			sf.blocks[ch.BlockID] = clusterID
			sf.fileSize += uint32(ch.DataLength)

			if ch.BlockID == 0 {
				fce, fErr := lc.readFileClusterExtra(clusterID)
				if fErr != nil {
					return fErr
				}

				n := int(fce.FilenameLength)
				if n > MaxFilenameLength {
					n = MaxFilenameLength
				}

				sf.name = string(fce.Filename[:n])
				sf.createdAt = time.Unix(0, int64(fce.CreationTime)).UTC()
			}

			if ch.ObjID > lastObjID {
				lastObjID = ch.ObjID
			}

		case m.IsOrphaned():
			ss.observe(clusterID, true)
			orphanedClusterCount++
			orphanedPerSector[lc.geometry.SectorOf(clusterID)]++

		case m.IsFree():
			ss.observe(clusterID, false)
			freeClusterCount++

		default:
			panicKind(ErrorKindNotFormatted, "illegal marker at cluster (%d): %s", clusterID, m)
		}

		i++
	}

	headClusterID := uint16(0)
	tailClusterID := uint16(0)

	if ss.headCandidate != -1 {
		headClusterID = uint16(ss.headCandidate)

		if ss.tailCandidate != -1 {
			tailClusterID = uint16(ss.tailCandidate)
		} else {
			// The in-use run never ended within the scan: the device is
			// full. The tail trails the head with no free clusters.
			tailClusterID = headClusterID
		}
	}

	filesIndex := make(map[uint16]*FileRef, len(scanned))

	for objID, sf := range scanned {
		maxBlockID := uint16(0)
		for blockID := range sf.blocks {
			if blockID > maxBlockID {
				maxBlockID = blockID
			}
		}

		blocks := make([]uint16, maxBlockID+1)
		for blockID, clusterID := range sf.blocks {
			blocks[blockID] = clusterID
		}

		if len(blocks) == 0 {
			continue
		}

		filesIndex[objID] = &FileRef{
			ObjID:     objID,
			Name:      sf.name,
			CreatedAt: sf.createdAt,
			Blocks:    blocks,
			FileSize:  sf.fileSize,
		}
	}

	lc.filesIndex = filesIndex
	lc.headSectorID = lc.geometry.SectorOf(headClusterID)
	lc.tailClusterID = tailClusterID
	lc.freeClusterCount = freeClusterCount
	lc.orphanedClusterCount = orphanedClusterCount
	lc.orphanedPerSector = orphanedPerSector
	lc.lastObjID = lastObjID
	lc.mounted = true

	return nil
}

// NextObjID assigns and returns a fresh object-id.
func (lc *LogCore) NextObjID() uint16 {
	lc.lastObjID++
	return lc.lastObjID
}

// Append writes cb (which the caller must have already set to
// MarkerPendingCluster) to the tail of the log, triggering a partial
// compaction first if free space is running low. It returns the cluster id
// the buffer was written to.
func (lc *LogCore) Append(cb *ClusterBuffer) (clusterID uint16, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if lc.compacting == false {
		if lc.freeClusterCount <= lc.minFreeClusters {
			cErr := lc.PartialCompact()
			if cErr != nil {
				return 0, cErr
			}
		}

		if lc.freeClusterCount <= lc.minFreeClusters {
			panicKind(ErrorKindDiskFull, "no free clusters available (free=%d, threshold=%d)", lc.freeClusterCount, lc.minFreeClusters)
		}
	}

	clusterID = lc.tailClusterID

	wErr := lc.driver.WriteAt(clusterID, 0, cb.Bytes())
	if wErr != nil {
		panicKind(ErrorKindInternal, "failed to append cluster (%d): %v", clusterID, wErr)
	}

	lc.tailClusterID = uint16((int(lc.tailClusterID) + 1) % lc.geometry.TotalClusterCount())
	lc.freeClusterCount--

	return clusterID, nil
}

// MarkClusterAllocated flips a just-appended PendingCluster to
// AllocatedCluster. This is the second half of the crash-safety protocol: a
// power loss before this call leaves the cluster as Pending, which Mount
// treats as orphaned, leaving any previous referent of the same
// (obj_id, block_id) untouched.
func (lc *LogCore) MarkClusterAllocated(clusterID uint16) error {
	return lc.writeMarker(clusterID, MarkerAllocatedCluster)
}

// MarkClusterOrphaned flips a superseded or deleted cluster to
// OrphanedCluster and updates the orphan accounting. Callers must only
// invoke this on a cluster whose replacement (if any) has already been
// written and marked allocated.
func (lc *LogCore) MarkClusterOrphaned(clusterID uint16) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	wErr := lc.writeMarker(clusterID, MarkerOrphanedCluster)
	if wErr != nil {
		return wErr
	}

	lc.orphanedClusterCount++
	lc.orphanedPerSector[lc.geometry.SectorOf(clusterID)]++

	return nil
}

// GetSectorToCompact picks the next compaction source: the head sector if it
// carries any orphans (to keep the log contiguous), otherwise the sector
// with the most orphans, excluding the sector the tail currently occupies.
func (lc *LogCore) GetSectorToCompact() (sectorID uint16, found bool) {
	tailSector := lc.geometry.SectorOf(lc.tailClusterID)

	if lc.headSectorID != tailSector && lc.orphanedPerSector[lc.headSectorID] > 0 {
		return lc.headSectorID, true
	}

	best := -1
	bestCount := 0

	for s := 0; s < len(lc.orphanedPerSector); s++ {
		if uint16(s) == tailSector {
			continue
		}

		if lc.orphanedPerSector[s] > bestCount {
			bestCount = lc.orphanedPerSector[s]
			best = s
		}
	}

	if best == -1 {
		return 0, false
	}

	return uint16(best), true
}

// MigrateSector copies every still-live cluster out of fromSector onto the
// tail of the log, then erases and reclaims fromSector.
func (lc *LogCore) MigrateSector(fromSector uint16) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if fromSector == lc.geometry.SectorOf(lc.tailClusterID) {
		panicKind(ErrorKindInternal, "source sector (%d) must not be the tail's current sector", fromSector)
	}

	clustersPerSector := lc.geometry.ClustersPerSector()
	firstCluster := lc.geometry.FirstClusterOfSector(fromSector)

	freed := 0

	for i := 0; i < clustersPerSector; i++ {
		clusterID := firstCluster + uint16(i)

		m, mErr := lc.readMarker(clusterID)
		if mErr != nil {
			return mErr
		}

		switch {
		case m == MarkerAllocatedCluster:
			lErr := lc.loadCluster(clusterID, lc.defragBuffer)
			if lErr != nil {
				return lErr
			}

			objID, oErr := lc.defragBuffer.ObjID()
			if oErr != nil {
				return oErr
			}

			blockID, bErr := lc.defragBuffer.BlockID()
			if bErr != nil {
				return bErr
			}

			lc.defragBuffer.SetMarker(MarkerPendingCluster)

			newClusterID, aErr := lc.Append(lc.defragBuffer)
			if aErr != nil {
				return aErr
			}

			aErr = lc.MarkClusterAllocated(newClusterID)
			if aErr != nil {
				return aErr
			}

			if fr, found := lc.filesIndex[objID]; found == true && int(blockID) < len(fr.Blocks) {
				fr.Blocks[blockID] = newClusterID
			} else {
				oErr := lc.MarkClusterOrphaned(newClusterID)
				if oErr != nil {
					return oErr
				}
			}

		case m.IsFree():
			// Already free; not counted as freed by this migration.

		default:
			// Orphaned or Pending: reclaimed by this migration.
			freed++
		}
	}

	eErr := lc.driver.EraseSector(fromSector)
	if eErr != nil {
		panicKind(ErrorKindInternal, "failed to erase sector (%d): %v", fromSector, eErr)
	}

	lc.orphanedPerSector[fromSector] = 0

	fErr := lc.writeMarker(firstCluster, MarkerFormattedSector)
	if fErr != nil {
		return fErr
	}

	lc.freeClusterCount += freed
	lc.orphanedClusterCount -= freed

	return nil
}

func (lc *LogCore) runCompactionLoop(guard func() bool) (err error) {
	lc.compacting = true
	defer func() {
		lc.compacting = false
	}()

	totalSectors := lc.geometry.TotalSectorCount()

	for guard() {
		sectorID, found := lc.GetSectorToCompact()
		if found == false {
			break
		}

		// The tail can wander into the candidate sector as earlier
		// migrations within this same loop append to it; a sector the tail
		// currently occupies can't be migrated, so stop cleanly rather than
		// let MigrateSector's internal guard turn into a hard error.
		if sectorID == lc.geometry.SectorOf(lc.tailClusterID) {
			break
		}

		isHead := sectorID == lc.headSectorID

		mErr := lc.MigrateSector(sectorID)
		if mErr != nil {
			return mErr
		}

		if isHead == false {
			if lc.headSectorID == lc.geometry.SectorOf(lc.tailClusterID) {
				break
			}

			mErr = lc.MigrateSector(lc.headSectorID)
			if mErr != nil {
				return mErr
			}
		}

		lc.headSectorID = uint16((int(lc.headSectorID) + 1) % totalSectors)
	}

	return nil
}

// Compact runs a full compaction: it keeps migrating the best candidate
// sector, and the head sector behind it, while orphans remain. It stops
// early once no sector other than the tail's current sector carries
// orphans, or once the head sector is the tail's sector; orphans in the
// tail's current sector are not reclaimed.
func (lc *LogCore) Compact() error {
	return lc.runCompactionLoop(func() bool {
		return lc.orphanedClusterCount > 0
	})
}

// PartialCompact runs the same loop as Compact but only while free space is
// scarce and there is enough orphaned material in a single sector's worth to
// be worth reclaiming. It is invoked lazily from the write path.
func (lc *LogCore) PartialCompact() error {
	if lc.compacting {
		return nil
	}

	clustersPerSector := lc.geometry.ClustersPerSector()

	return lc.runCompactionLoop(func() bool {
		return lc.freeClusterCount <= lc.minFreeClusters && lc.orphanedClusterCount >= clustersPerSector
	})
}
