// Package backend is the block storage that filesystem images and devices are read from.
package backend

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

var (
	ErrNotSuitable = errors.New("backing file is not suitable")
	ErrOutOfRange  = errors.New("read outside of storage bounds")
)

type File interface {
	fs.File
	io.ReaderAt
	io.Seeker
	io.Closer
}

type Storage interface {
	File
	// OS-specific file for flock and ioctl calls via fd. Returns ErrNotSuitable when
	// the storage is not backed by one.
	Sys() (*os.File, error)
	// Size in bytes of the readable storage
	Size() (int64, error)
}
