package file_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diskfs/go-ext2journal/backend"
	"github.com/diskfs/go-ext2journal/backend/file"
)

func TestOpenFromPath(t *testing.T) {
	content := bytes.Repeat([]byte("journal!"), 512)
	p := filepath.Join(t.TempDir(), "image.img")
	require.NoError(t, os.WriteFile(p, content, 0o600))

	s, err := file.OpenFromPath(p)
	require.NoError(t, err)
	defer s.Close()

	size, err := s.Size()
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), size)

	b := make([]byte, 8)
	_, err = s.ReadAt(b, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("journal!"), b)

	f, err := s.Sys()
	require.NoError(t, err)
	require.Equal(t, p, f.Name())
}

func TestOpenFromPathErrors(t *testing.T) {
	_, err := file.OpenFromPath("")
	require.Error(t, err)
	_, err = file.OpenFromPath(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestSizeOfDirectory(t *testing.T) {
	d, err := os.Open(t.TempDir())
	require.NoError(t, err)
	s := file.New(d)
	defer s.Close()
	_, err = s.Size()
	require.ErrorIs(t, err, backend.ErrNotSuitable)
}
