//go:build !unix

package ext2

import "os"

// without flock only the in-process lock is held
func lockFile(_ *os.File) error {
	return nil
}

func unlockFile(_ *os.File) error {
	return nil
}
