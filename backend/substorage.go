package backend

import (
	"fmt"
	"io"
	"io/fs"
	"os"
)

// SubStorage is a window of size bytes starting at offset of the underlying storage, e.g. a
// single partition of a whole disk
type SubStorage struct {
	underlying Storage
	offset     int64
	size       int64
}

// Sub returns the window [offset, offset+size) of u. A size of 0 or less extends the window to
// the end of u.
func Sub(u Storage, offset, size int64) (Storage, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, offset)
	}
	total, err := u.Size()
	if err != nil {
		return nil, fmt.Errorf("could not get size of underlying storage: %w", err)
	}
	if size <= 0 {
		size = total - offset
	}
	if offset+size > total {
		return nil, fmt.Errorf("%w: window %d+%d past end of %d byte storage", ErrOutOfRange, offset, size, total)
	}
	return SubStorage{
		underlying: u,
		offset:     offset,
		size:       size,
	}, nil
}

func (s SubStorage) Stat() (fs.FileInfo, error) {
	return s.underlying.Stat()
}

func (s SubStorage) Read(bytes []byte) (int, error) {
	return s.underlying.Read(bytes)
}

func (s SubStorage) Close() error {
	return s.underlying.Close()
}

// ReadAt reads relative to the start of the window. Reads are cut short at the end of the window.
func (s SubStorage) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	short := false
	if remaining := s.size - off; int64(len(p)) > remaining {
		p = p[:remaining]
		short = true
	}
	n, err = s.underlying.ReadAt(p, s.offset+off)
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}

func (s SubStorage) Seek(offset int64, whence int) (int64, error) {
	var (
		pos int64
		err error
	)

	switch whence {
	case io.SeekStart:
		pos, err = s.underlying.Seek(offset+s.offset, io.SeekStart)
	case io.SeekCurrent:
		pos, err = s.underlying.Seek(offset, io.SeekCurrent)
	case io.SeekEnd:
		pos, err = s.underlying.Seek(s.offset+s.size+offset, io.SeekStart)
	default:
		return -1, ErrNotSuitable
	}

	if err != nil {
		return -1, err
	}

	return pos - s.offset, nil
}

func (s SubStorage) Sys() (*os.File, error) {
	return s.underlying.Sys()
}

func (s SubStorage) Size() (int64, error) {
	return s.size, nil
}
