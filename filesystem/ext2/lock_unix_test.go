//go:build unix

package ext2

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/diskfs/go-ext2journal/backend/file"
	"github.com/diskfs/go-ext2journal/testhelper"
)

func TestHandleFlock(t *testing.T) {
	img := buildImage(t, testhelper.Ext2Image{BlockSize: 1024, JournalBlocks: 1024})
	path := filepath.Join(t.TempDir(), "ext.img")
	require.NoError(t, os.WriteFile(path, img.Bytes, 0o600))

	s, err := file.OpenFromPath(path)
	require.NoError(t, err)
	defer s.Close()
	fs, err := Read(s, 0, 0, WithLogger(quietLogger()))
	require.NoError(t, err)
	h, err := fs.ResolveInode(8)
	require.NoError(t, err)
	require.NotNil(t, h.(*inodeHandle).file)

	other, err := os.Open(path)
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, h.Lock())
	err = unix.Flock(int(other.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	require.ErrorIs(t, err, unix.EWOULDBLOCK)

	require.NoError(t, h.Unlock())
	require.NoError(t, unix.Flock(int(other.Fd()), unix.LOCK_EX|unix.LOCK_NB))
	require.NoError(t, unix.Flock(int(other.Fd()), unix.LOCK_UN))
}
