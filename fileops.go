// This file implements the file-level operations -- create, read, write,
// truncate, delete, move, copy, and lookup -- in terms of LogCore's append,
// allocate, and orphan primitives.

package lumenfs

import (
	"time"
)

// position locates which block a file offset falls in, and the byte offset
// within that block's payload, given the payload capacities of a block-0
// (FileCluster) and a block->=1 (DataCluster).
func position(p int64, fileClusterMax, dataClusterMax int) (blockID uint16, offsetInBlock int) {
	if p < int64(fileClusterMax) {
		return 0, int(p)
	}

	adj := p - int64(fileClusterMax)

	return uint16(adj/int64(dataClusterMax) + 1), int(adj % int64(dataClusterMax))
}

// blockCapacity returns the payload capacity of the given block.
func blockCapacity(blockID uint16, fileClusterMax, dataClusterMax int) int {
	if blockID == 0 {
		return fileClusterMax
	}

	return dataClusterMax
}

// foldName upper-cases the ASCII letters a-z; every other byte passes
// through unchanged.
func foldName(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}

	return string(b)
}

// fileOps bundles the geometry-derived constants fileops needs alongside the
// LogCore it operates against.
type fileOps struct {
	lc             *LogCore
	geometry       Geometry
	fileClusterMax int
	dataClusterMax int
}

func newFileOps(lc *LogCore) *fileOps {
	g := lc.geometry

	return &fileOps{
		lc:             lc,
		geometry:       g,
		fileClusterMax: FileClusterMaxDataLength(g),
		dataClusterMax: DataClusterMaxDataLength(g),
	}
}

// find looks up a file by name, fully case-folding both the query and every
// stored name.
func (fo *fileOps) find(name string) (*FileRef, bool) {
	folded := foldName(name)

	for _, fr := range fo.lc.filesIndex {
		if foldName(fr.Name) == folded {
			return fr, true
		}
	}

	return nil, false
}

func (fo *fileOps) exists(name string) bool {
	_, found := fo.find(name)
	return found
}

// names returns every filename currently indexed, in no particular order;
// callers that need a stable order (the public GetFiles call) sort it.
func (fo *fileOps) names() []string {
	out := make([]string, 0, len(fo.lc.filesIndex))
	for _, fr := range fo.lc.filesIndex {
		out = append(out, fr.Name)
	}

	return out
}

// create allocates a new, empty file and installs it into the index,
// deleting any existing file of the same name first.
func (fo *fileOps) create(name string) (fr *FileRef, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if len(name) == 0 || len(name) > MaxFilenameLength {
		panicKind(ErrorKindArgumentOutOfRange, "filename length out of range: (%d)", len(name))
	}

	if existing, found := fo.find(name); found {
		dErr := fo.delete(existing)
		if dErr != nil {
			return nil, dErr
		}
	}

	objID := fo.lc.NextObjID()
	createdAt := time.Now()

	cb := NewClusterBuffer(fo.geometry)

	sErr := cb.SetCommonHeader(MarkerPendingCluster, objID, 0, 0)
	if sErr != nil {
		return nil, sErr
	}

	sErr = cb.SetFileClusterExtra(name, createdAt)
	if sErr != nil {
		return nil, sErr
	}

	clusterID, aErr := fo.lc.Append(cb)
	if aErr != nil {
		return nil, aErr
	}

	aErr = fo.lc.MarkClusterAllocated(clusterID)
	if aErr != nil {
		return nil, aErr
	}

	fr = &FileRef{
		ObjID:     objID,
		Name:      name,
		CreatedAt: createdAt,
		Blocks:    []uint16{clusterID},
	}

	fo.lc.filesIndex[objID] = fr

	return fr, nil
}

// readAt reads up to len(dst) bytes of fr's payload starting at pos,
// stopping at fr.FileSize; it returns the number of bytes copied (0 when pos
// is at or past the end).
func (fo *fileOps) readAt(fr *FileRef, pos int64, dst []byte) (n int, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	remaining := int64(fr.FileSize) - pos
	if remaining <= 0 {
		return 0, nil
	}

	want := len(dst)
	if int64(want) > remaining {
		want = int(remaining)
	}

	cb := NewClusterBuffer(fo.geometry)

	copied := 0
	for copied < want {
		blockID, offsetInBlock := position(pos+int64(copied), fo.fileClusterMax, fo.dataClusterMax)
		if int(blockID) >= len(fr.Blocks) {
			break
		}

		lErr := fo.lc.loadCluster(fr.Blocks[blockID], cb)
		if lErr != nil {
			return 0, lErr
		}

		payload, pErr := cb.Payload()
		if pErr != nil {
			return 0, pErr
		}

		avail := len(payload) - offsetInBlock
		if avail <= 0 {
			break
		}

		chunk := want - copied
		if chunk > avail {
			chunk = avail
		}

		copy(dst[copied:copied+chunk], payload[offsetInBlock:offsetInBlock+chunk])
		copied += chunk
	}

	return copied, nil
}

// writeAt writes data into fr's payload starting at pos, extending fr and
// allocating new blocks as needed, replacing any superseded cluster with the
// new-first-then-invalidate-old protocol.
func (fo *fileOps) writeAt(fr *FileRef, pos int64, data []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if pos > int64(fr.FileSize) {
		panicKind(ErrorKindWritePastEnd, "write position (%d) beyond file size (%d)", pos, fr.FileSize)
	}

	written := 0
	for written < len(data) {
		blockID, offsetInBlock := position(pos+int64(written), fo.fileClusterMax, fo.dataClusterMax)

		capacity := blockCapacity(blockID, fo.fileClusterMax, fo.dataClusterMax)

		chunk := len(data) - written
		if chunk > capacity-offsetInBlock {
			chunk = capacity - offsetInBlock
		}

		if int(blockID) < len(fr.Blocks) {
			// The block already exists: merge the new bytes into its
			// current payload and replace it new-first-then-invalidate-old.
			oldClusterID := fr.Blocks[blockID]

			cb := NewClusterBuffer(fo.geometry)

			lErr := fo.lc.loadCluster(oldClusterID, cb)
			if lErr != nil {
				return lErr
			}

			oldDataLength, dlErr := cb.DataLength()
			if dlErr != nil {
				return dlErr
			}

			newDataLength := int(oldDataLength)
			if offsetInBlock+chunk > newDataLength {
				newDataLength = offsetInBlock + chunk
			}

			var name string
			var createdAt time.Time
			if blockID == 0 {
				name, lErr = cb.Filename()
				if lErr != nil {
					return lErr
				}

				createdAt, lErr = cb.CreationTime()
				if lErr != nil {
					return lErr
				}
			}

			nb := NewClusterBuffer(fo.geometry)

			sErr := nb.SetCommonHeader(MarkerPendingCluster, fr.ObjID, blockID, uint16(newDataLength))
			if sErr != nil {
				return sErr
			}

			if blockID == 0 {
				sErr = nb.SetFileClusterExtra(name, createdAt)
				if sErr != nil {
					return sErr
				}
			}

			oldPayload, pErr := cb.Payload()
			if pErr != nil {
				return pErr
			}

			wErr := nb.WritePayload(0, oldPayload)
			if wErr != nil {
				return wErr
			}

			wErr = nb.WritePayload(offsetInBlock, data[written:written+chunk])
			if wErr != nil {
				return wErr
			}

			newClusterID, aErr := fo.lc.Append(nb)
			if aErr != nil {
				return aErr
			}

			aErr = fo.lc.MarkClusterAllocated(newClusterID)
			if aErr != nil {
				return aErr
			}

			fr.Blocks[blockID] = newClusterID

			oErr := fo.lc.MarkClusterOrphaned(oldClusterID)
			if oErr != nil {
				return oErr
			}

			if newDataLength > int(oldDataLength) {
				fr.FileSize += uint32(newDataLength) - oldDataLength
			}
		} else {
			// The block is new: offsetInBlock is always 0 here, since a
			// fresh block can only be reached after exactly filling the
			// capacity of every block before it.
			nb := NewClusterBuffer(fo.geometry)

			sErr := nb.SetCommonHeader(MarkerPendingCluster, fr.ObjID, blockID, uint16(chunk))
			if sErr != nil {
				return sErr
			}

			if blockID == 0 {
				sErr = nb.SetFileClusterExtra(fr.Name, fr.CreatedAt)
				if sErr != nil {
					return sErr
				}
			}

			wErr := nb.WritePayload(0, data[written:written+chunk])
			if wErr != nil {
				return wErr
			}

			newClusterID, aErr := fo.lc.Append(nb)
			if aErr != nil {
				return aErr
			}

			aErr = fo.lc.MarkClusterAllocated(newClusterID)
			if aErr != nil {
				return aErr
			}

			fr.Blocks = append(fr.Blocks, newClusterID)
			fr.FileSize += uint32(chunk)
		}

		written += chunk
	}

	endPos := pos + int64(len(data))
	if endPos > int64(fr.FileSize) {
		fr.FileSize = uint32(endPos)
	}

	return nil
}

// truncate sets fr's length to newSize, which must not exceed the current
// size (holes are disallowed, matching Write). Truncating to the current
// size is a no-op.
func (fo *fileOps) truncate(fr *FileRef, newSize int64) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if newSize > int64(fr.FileSize) {
		panicKind(ErrorKindWritePastEnd, "truncate position (%d) beyond file size (%d)", newSize, fr.FileSize)
	}

	if newSize == int64(fr.FileSize) {
		return nil
	}

	blockID, offsetInBlock := position(newSize, fo.fileClusterMax, fo.dataClusterMax)
	splits := offsetInBlock > 0 || blockID == 0

	if splits {
		oldClusterID := fr.Blocks[blockID]

		cb := NewClusterBuffer(fo.geometry)

		lErr := fo.lc.loadCluster(oldClusterID, cb)
		if lErr != nil {
			return lErr
		}

		var name string
		var createdAt time.Time
		if blockID == 0 {
			name, lErr = cb.Filename()
			if lErr != nil {
				return lErr
			}

			createdAt, lErr = cb.CreationTime()
			if lErr != nil {
				return lErr
			}
		}

		payload, pErr := cb.Payload()
		if pErr != nil {
			return pErr
		}

		nb := NewClusterBuffer(fo.geometry)

		sErr := nb.SetCommonHeader(MarkerPendingCluster, fr.ObjID, blockID, uint16(offsetInBlock))
		if sErr != nil {
			return sErr
		}

		if blockID == 0 {
			sErr = nb.SetFileClusterExtra(name, createdAt)
			if sErr != nil {
				return sErr
			}
		}

		wErr := nb.WritePayload(0, payload[:offsetInBlock])
		if wErr != nil {
			return wErr
		}

		newClusterID, aErr := fo.lc.Append(nb)
		if aErr != nil {
			return aErr
		}

		aErr = fo.lc.MarkClusterAllocated(newClusterID)
		if aErr != nil {
			return aErr
		}

		oErr := fo.lc.MarkClusterOrphaned(oldClusterID)
		if oErr != nil {
			return oErr
		}

		fr.Blocks[blockID] = newClusterID
		blockID++
	}

	for i := int(blockID); i < len(fr.Blocks); i++ {
		oErr := fo.lc.MarkClusterOrphaned(fr.Blocks[i])
		if oErr != nil {
			return oErr
		}
	}

	fr.Blocks = fr.Blocks[:blockID]
	fr.FileSize = uint32(newSize)

	return nil
}

// delete orphans every block of fr and drops it from the index. It refuses
// files that are still open.
func (fo *fileOps) delete(fr *FileRef) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if fr.OpenCount > 0 {
		panicKind(ErrorKindFileInUse, "file is open: [%s]", fr.Name)
	}

	for _, clusterID := range fr.Blocks {
		oErr := fo.lc.MarkClusterOrphaned(clusterID)
		if oErr != nil {
			return oErr
		}
	}

	delete(fo.lc.filesIndex, fr.ObjID)

	return nil
}

// rename rewrites fr's block-0 cluster under a new name, following the
// new-first-then-invalidate-old protocol like any other block-0 mutation.
func (fo *fileOps) rename(fr *FileRef, newName string) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if len(newName) == 0 || len(newName) > MaxFilenameLength {
		panicKind(ErrorKindArgumentOutOfRange, "filename length out of range: (%d)", len(newName))
	}

	oldClusterID := fr.Blocks[0]

	cb := NewClusterBuffer(fo.geometry)

	lErr := fo.lc.loadCluster(oldClusterID, cb)
	if lErr != nil {
		return lErr
	}

	dataLength, dlErr := cb.DataLength()
	if dlErr != nil {
		return dlErr
	}

	payload, pErr := cb.Payload()
	if pErr != nil {
		return pErr
	}

	nb := NewClusterBuffer(fo.geometry)

	sErr := nb.SetCommonHeader(MarkerPendingCluster, fr.ObjID, 0, dataLength)
	if sErr != nil {
		return sErr
	}

	sErr = nb.SetFileClusterExtra(newName, fr.CreatedAt)
	if sErr != nil {
		return sErr
	}

	wErr := nb.WritePayload(0, payload)
	if wErr != nil {
		return wErr
	}

	newClusterID, aErr := fo.lc.Append(nb)
	if aErr != nil {
		return aErr
	}

	aErr = fo.lc.MarkClusterAllocated(newClusterID)
	if aErr != nil {
		return aErr
	}

	oErr := fo.lc.MarkClusterOrphaned(oldClusterID)
	if oErr != nil {
		return oErr
	}

	fr.Blocks[0] = newClusterID
	fr.Name = newName

	return nil
}

// copy re-appends every block of src under a freshly assigned object-id and
// a (possibly different) destination name, installing the result as a new
// FileRef. The caller is responsible for enforcing overwrite semantics on
// the destination name before calling this.
func (fo *fileOps) copy(src *FileRef, dstName string) (fr *FileRef, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = asLumenError(errRaw)
		}
	}()

	if len(dstName) == 0 || len(dstName) > MaxFilenameLength {
		panicKind(ErrorKindArgumentOutOfRange, "filename length out of range: (%d)", len(dstName))
	}

	objID := fo.lc.NextObjID()
	createdAt := time.Now()

	cb := NewClusterBuffer(fo.geometry)
	blocks := make([]uint16, len(src.Blocks))

	for blockID, oldClusterID := range src.Blocks {
		lErr := fo.lc.loadCluster(oldClusterID, cb)
		if lErr != nil {
			return nil, lErr
		}

		dataLength, dlErr := cb.DataLength()
		if dlErr != nil {
			return nil, dlErr
		}

		payload, pErr := cb.Payload()
		if pErr != nil {
			return nil, pErr
		}

		nb := NewClusterBuffer(fo.geometry)

		sErr := nb.SetCommonHeader(MarkerPendingCluster, objID, uint16(blockID), dataLength)
		if sErr != nil {
			return nil, sErr
		}

		if blockID == 0 {
			sErr = nb.SetFileClusterExtra(dstName, createdAt)
			if sErr != nil {
				return nil, sErr
			}
		}

		wErr := nb.WritePayload(0, payload)
		if wErr != nil {
			return nil, wErr
		}

		newClusterID, aErr := fo.lc.Append(nb)
		if aErr != nil {
			return nil, aErr
		}

		aErr = fo.lc.MarkClusterAllocated(newClusterID)
		if aErr != nil {
			return nil, aErr
		}

		blocks[blockID] = newClusterID
	}

	fr = &FileRef{
		ObjID:     objID,
		Name:      dstName,
		CreatedAt: createdAt,
		Blocks:    blocks,
		FileSize:  src.FileSize,
	}

	fo.lc.filesIndex[objID] = fr

	return fr, nil
}

// readAll reads the entire contents of fr in one shot.
func (fo *fileOps) readAll(fr *FileRef) ([]byte, error) {
	out := make([]byte, fr.FileSize)

	n, err := fo.readAt(fr, 0, out)
	if err != nil {
		return nil, err
	}

	return out[:n], nil
}
