package lumenfs

import (
	"io"
)

// OpenMode selects the semantics of FileSystem.Open, mirroring the small
// fixed set of combinations a flat single-writer namespace actually needs.
type OpenMode int

const (
	// ModeCreateNew creates a new file and fails if one already exists.
	ModeCreateNew OpenMode = iota
	// ModeCreate creates a new file, truncating an existing one.
	ModeCreate
	// ModeOpen opens an existing file and fails if it does not exist.
	ModeOpen
	// ModeOpenOrCreate opens an existing file or creates it if missing.
	ModeOpenOrCreate
	// ModeTruncate opens an existing file and truncates it to zero length.
	ModeTruncate
	// ModeAppend opens an existing file (or creates it) positioned at its
	// current end.
	ModeAppend
)

// Stream is a handle onto one file, implementing io.ReadWriteSeeker. It does
// no host-side buffering of its own: every Read or Write call drives
// LogCore directly through the FileSystem it was opened from.
type Stream struct {
	fs     *FileSystem
	fr     *FileRef
	pos    int64
	closed bool
}

var _ io.ReadWriteSeeker = (*Stream)(nil)

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (n int, err error) {
	if s.closed {
		return 0, NewError(ErrorKindInternal, "stream is closed")
	}

	n, err = s.fs.readAtLocked(s.fr, s.pos, p)
	if err != nil {
		return n, err
	}

	s.pos += int64(n)

	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}

	return n, nil
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (n int, err error) {
	if s.closed {
		return 0, NewError(ErrorKindInternal, "stream is closed")
	}

	err = s.fs.writeAtLocked(s.fr, s.pos, p)
	if err != nil {
		return 0, err
	}

	s.pos += int64(len(p))

	return len(p), nil
}

// Seek implements io.Seeker. Seeking past the current end of the file is
// legal by itself, but holes are disallowed: a Write from a position beyond
// the file's current size fails with WritePastEnd rather than materializing
// a gap.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, NewError(ErrorKindInternal, "stream is closed")
	}

	var newPos int64

	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.fr.FileSize) + offset
	default:
		return 0, NewError(ErrorKindArgumentOutOfRange, "unknown whence: (%d)", whence)
	}

	if newPos < 0 {
		return 0, NewError(ErrorKindArgumentOutOfRange, "negative seek position: (%d)", newPos)
	}

	s.pos = newPos

	return s.pos, nil
}

// Length returns the file's current size.
func (s *Stream) Length() int64 {
	return int64(s.fr.FileSize)
}

// SetLength truncates the file to exactly size bytes. It never extends the
// file: a size beyond the current length fails with WritePastEnd.
func (s *Stream) SetLength(size int64) error {
	if s.closed {
		return NewError(ErrorKindInternal, "stream is closed")
	}

	return s.fs.truncateLocked(s.fr, size)
}

// Close decrements the file's open count. It is idempotent.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.fs.releaseLocked(s.fr)

	return nil
}
