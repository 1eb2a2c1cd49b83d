package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// deviceSize asks the kernel for the size in bytes of a block device
func deviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}
