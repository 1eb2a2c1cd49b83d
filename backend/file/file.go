// Package file provides a backend.Storage over an image file or a block device
package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/diskfs/go-ext2journal/backend"
)

type rawBackend struct {
	storage fs.File
}

// Create a backend.Storage from provided fs.File
func New(f fs.File) backend.Storage {
	return rawBackend{
		storage: f,
	}
}

// Create a read-only backend.Storage from a path to a device
// Should pass a path to a block device e.g. /dev/sda or a path to a file /tmp/foo.img
// The provided device/file must exist at the time you call OpenFromPath()
func OpenFromPath(pathName string) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass device or file name")
	}

	if _, err := os.Stat(pathName); os.IsNotExist(err) {
		return nil, fmt.Errorf("provided device/file %s does not exist", pathName)
	}

	f, err := os.OpenFile(pathName, os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s for reading: %w", pathName, err)
	}

	return rawBackend{
		storage: f,
	}, nil
}

// backend.Storage interface guard
var _ backend.Storage = (*rawBackend)(nil)

// OS-specific file for flock and ioctl calls via fd
func (f rawBackend) Sys() (*os.File, error) {
	if osFile, ok := f.storage.(*os.File); ok {
		return osFile, nil
	}
	return nil, backend.ErrNotSuitable
}

// Size is the length of a regular file, or what the kernel reports for a block device
func (f rawBackend) Size() (int64, error) {
	info, err := f.storage.Stat()
	if err != nil {
		return 0, fmt.Errorf("could not stat storage: %w", err)
	}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		return info.Size(), nil
	case mode&os.ModeDevice != 0:
		osFile, err := f.Sys()
		if err != nil {
			return 0, err
		}
		size, err := deviceSize(osFile)
		if err != nil {
			return 0, fmt.Errorf("could not get size of device %s: %w", osFile.Name(), err)
		}
		return size, nil
	default:
		return 0, fmt.Errorf("%w: %s is neither a block device nor a regular file", backend.ErrNotSuitable, info.Name())
	}
}

func (f rawBackend) Stat() (fs.FileInfo, error) {
	return f.storage.Stat()
}

func (f rawBackend) Read(b []byte) (int, error) {
	return f.storage.Read(b)
}

func (f rawBackend) Close() error {
	return f.storage.Close()
}

func (f rawBackend) ReadAt(p []byte, off int64) (n int, err error) {
	if readerAt, ok := f.storage.(io.ReaderAt); ok {
		return readerAt.ReadAt(p, off)
	}
	return -1, backend.ErrNotSuitable
}

func (f rawBackend) Seek(offset int64, whence int) (int64, error) {
	if seeker, ok := f.storage.(io.Seeker); ok {
		return seeker.Seek(offset, whence)
	}
	return -1, backend.ErrNotSuitable
}
