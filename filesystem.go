// This file is the public facade: a single coarse-grained mutex guarding
// every entry point, wired to LogCore for the log and to fileOps for the
// per-file operations.

package lumenfs

import (
	"sort"
	"sync"
	"time"
)

// defaultStreamBufferSize is a conventional buffer_size default for
// Create/Open callers; Stream does no host-side buffering of its own, so
// this is accepted for API compatibility and otherwise unused.
const defaultStreamBufferSize = 4096

// FileSystem is the public entry point: a log-structured, wear-aware file
// system mounted over a BlockDriver.
type FileSystem struct {
	mu sync.Mutex

	lc *LogCore
	fo *fileOps
}

// NewFileSystem constructs a FileSystem over driver. The caller must still
// call Format or Mount before using it.
func NewFileSystem(driver BlockDriver) (*FileSystem, error) {
	g := driver.Geometry()

	if err := g.Validate(); err != nil {
		return nil, err
	}

	lc := NewLogCore(driver)

	return &FileSystem{
		lc: lc,
		fo: newFileOps(lc),
	}, nil
}

func (fs *FileSystem) requireMounted() error {
	if fs.lc.IsMounted() == false {
		return NewError(ErrorKindNotMounted, "file system is not mounted")
	}

	return nil
}

// CheckIfFormatted reports whether the underlying medium carries a legal
// sector-head marker, without reconstructing the file index.
func (fs *FileSystem) CheckIfFormatted() (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.lc.CheckIfFormatted()
}

// Format erases the medium and installs an empty file system. It fails if
// any file is still open.
func (fs *FileSystem) Format() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.lc.Format()
}

// Mount reconstructs the in-memory file index from the medium by scanning
// it once.
func (fs *FileSystem) Mount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.lc.Mount()
}

// Compact runs a full compaction, reclaiming orphaned clusters outside the
// sector the log's tail currently occupies; orphans inside that sector are
// left in place.
func (fs *FileSystem) Compact() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return err
	}

	return fs.lc.Compact()
}

// GetStats returns the free and orphaned byte counts implied by the current
// cluster accounting.
func (fs *FileSystem) GetStats() (freeBytes, orphanedBytes int64, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err = fs.requireMounted(); err != nil {
		return 0, 0, err
	}

	freeBytes, orphanedBytes = fs.lc.Stats()

	return freeBytes, orphanedBytes, nil
}

// Exists reports whether name is present.
func (fs *FileSystem) Exists(name string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return false, err
	}

	return fs.fo.exists(name), nil
}

// GetFiles returns every filename currently present, sorted.
func (fs *FileSystem) GetFiles() ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return nil, err
	}

	names := fs.fo.names()
	sort.Strings(names)

	return names, nil
}

// GetFileSize returns name's current size in bytes.
func (fs *FileSystem) GetFileSize(name string) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return 0, err
	}

	fr, found := fs.fo.find(name)
	if found == false {
		return 0, NewError(ErrorKindFileNotFound, "file not found: [%s]", name)
	}

	return int64(fr.FileSize), nil
}

// GetFileCreationTime returns name's recorded creation time.
func (fs *FileSystem) GetFileCreationTime(name string) (time.Time, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return time.Time{}, err
	}

	fr, found := fs.fo.find(name)
	if found == false {
		return time.Time{}, NewError(ErrorKindFileNotFound, "file not found: [%s]", name)
	}

	return fr.CreatedAt, nil
}

// Delete removes name. It fails with FileInUse if name is currently open.
func (fs *FileSystem) Delete(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return err
	}

	fr, found := fs.fo.find(name)
	if found == false {
		return NewError(ErrorKindFileNotFound, "file not found: [%s]", name)
	}

	return fs.fo.delete(fr)
}

// Move renames src to dst. dst must not already exist.
func (fs *FileSystem) Move(src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return err
	}

	fr, found := fs.fo.find(src)
	if found == false {
		return NewError(ErrorKindFileNotFound, "file not found: [%s]", src)
	}

	if fs.fo.exists(dst) {
		return NewError(ErrorKindPathAlreadyExists, "file already exists: [%s]", dst)
	}

	return fs.fo.rename(fr, dst)
}

// Copy copies src to dst, assigning dst a fresh object-id and creation time.
// dst may exist only if overwrite is set.
func (fs *FileSystem) Copy(src, dst string, overwrite bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return err
	}

	srcRef, found := fs.fo.find(src)
	if found == false {
		return NewError(ErrorKindFileNotFound, "file not found: [%s]", src)
	}

	if existing, found := fs.fo.find(dst); found {
		if overwrite == false {
			return NewError(ErrorKindPathAlreadyExists, "file already exists: [%s]", dst)
		}

		if err := fs.fo.delete(existing); err != nil {
			return err
		}
	}

	_, err := fs.fo.copy(srcRef, dst)

	return err
}

// ReadAllBytes reads the entire contents of name.
func (fs *FileSystem) ReadAllBytes(name string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return nil, err
	}

	fr, found := fs.fo.find(name)
	if found == false {
		return nil, NewError(ErrorKindFileNotFound, "file not found: [%s]", name)
	}

	return fs.fo.readAll(fr)
}

// WriteAllBytes creates (or replaces) name with exactly data.
func (fs *FileSystem) WriteAllBytes(name string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return err
	}

	fr, err := fs.fo.create(name)
	if err != nil {
		return err
	}

	return fs.fo.writeAt(fr, 0, data)
}

// Create opens a brand-new stream on name, replacing any existing file of
// the same name. bufferSize is accepted for API compatibility; Stream does
// no host-side buffering.
func (fs *FileSystem) Create(name string, bufferSize int) (*Stream, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.requireMounted(); err != nil {
		return nil, err
	}

	fr, err := fs.fo.create(name)
	if err != nil {
		return nil, err
	}

	fr.OpenCount++

	return &Stream{fs: fs, fr: fr}, nil
}

// Open opens name according to mode.
func (fs *FileSystem) Open(name string, mode OpenMode, bufferSize int) (stream *Stream, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err = fs.requireMounted(); err != nil {
		return nil, err
	}

	fr, found := fs.fo.find(name)

	switch mode {
	case ModeCreateNew:
		if found {
			return nil, NewError(ErrorKindPathAlreadyExists, "file already exists: [%s]", name)
		}

		fr, err = fs.fo.create(name)
		if err != nil {
			return nil, err
		}

	case ModeCreate:
		fr, err = fs.fo.create(name)
		if err != nil {
			return nil, err
		}

	case ModeOpen:
		if found == false {
			return nil, NewError(ErrorKindFileNotFound, "file not found: [%s]", name)
		}

	case ModeOpenOrCreate:
		if found == false {
			fr, err = fs.fo.create(name)
			if err != nil {
				return nil, err
			}
		}

	case ModeTruncate:
		if found == false {
			return nil, NewError(ErrorKindFileNotFound, "file not found: [%s]", name)
		}

		if err = fs.fo.truncate(fr, 0); err != nil {
			return nil, err
		}

	case ModeAppend:
		if found == false {
			fr, err = fs.fo.create(name)
			if err != nil {
				return nil, err
			}
		}

	default:
		return nil, NewError(ErrorKindArgumentOutOfRange, "unknown open mode: (%d)", mode)
	}

	fr.OpenCount++

	s := &Stream{fs: fs, fr: fr}

	if mode == ModeAppend {
		s.pos = int64(fr.FileSize)
	}

	return s, nil
}

// The following unexported methods are what Stream calls back into. Stream
// never holds fs.mu itself, so each acquires it independently; this is the
// callback-runs-lock-free-then-locks-internally structure the concurrency
// model calls for instead of a recursive mutex.

func (fs *FileSystem) readAtLocked(fr *FileRef, pos int64, dst []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.fo.readAt(fr, pos, dst)
}

func (fs *FileSystem) writeAtLocked(fr *FileRef, pos int64, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.fo.writeAt(fr, pos, data)
}

func (fs *FileSystem) truncateLocked(fr *FileRef, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.fo.truncate(fr, size)
}

func (fs *FileSystem) releaseLocked(fr *FileRef) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fr.OpenCount > 0 {
		fr.OpenCount--
	}
}
