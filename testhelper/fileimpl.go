package testhelper

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/diskfs/go-ext2journal/backend"
)

type reader func(b []byte, offset int64) (int, error)

// FileImpl implements backend.Storage on top of a read function, used for testing to stub out
// images too large or too sparse to hold in memory
type FileImpl struct {
	Reader reader
	// Length is what Size reports
	Length int64
}

var _ backend.Storage = (*FileImpl)(nil)

func (f *FileImpl) Stat() (fs.FileInfo, error) {
	return nil, nil
}

func (f *FileImpl) Read(b []byte) (int, error) {
	return f.Reader(b, 0)
}

func (f *FileImpl) Close() error {
	return nil
}

// ReadAt read at a particular offset
func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	return f.Reader(b, offset)
}

// Seek seek a particular offset - does not actually work
func (f *FileImpl) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("FileImpl does not implement Seek()")
}

func (f *FileImpl) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

func (f *FileImpl) Size() (int64, error) {
	return f.Length, nil
}

// MemStorage is a backend.Storage over a byte slice
type MemStorage struct {
	b      []byte
	pos    int64
	closed bool
}

var _ backend.Storage = (*MemStorage)(nil)

func NewMemStorage(b []byte) *MemStorage {
	return &MemStorage{b: b}
}

// Bytes returns the backing slice, so tests can corrupt an image after building it
func (m *MemStorage) Bytes() []byte {
	return m.b
}

// Closed reports whether Close has been called
func (m *MemStorage) Closed() bool {
	return m.closed
}

func (m *MemStorage) Stat() (fs.FileInfo, error) {
	return nil, nil
}

func (m *MemStorage) Read(b []byte) (int, error) {
	n, err := m.ReadAt(b, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *MemStorage) ReadAt(b []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d", offset)
	}
	if offset >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(b, m.b[offset:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemStorage) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += m.pos
	case io.SeekEnd:
		offset += int64(len(m.b))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if offset < 0 {
		return 0, fmt.Errorf("cannot seek to negative position %d", offset)
	}
	m.pos = offset
	return offset, nil
}

func (m *MemStorage) Close() error {
	m.closed = true
	return nil
}

func (m *MemStorage) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

func (m *MemStorage) Size() (int64, error) {
	return int64(len(m.b)), nil
}
