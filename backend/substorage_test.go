package backend_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diskfs/go-ext2journal/backend"
	"github.com/diskfs/go-ext2journal/testhelper"
)

func TestSub(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	u := testhelper.NewMemStorage(data)

	tests := []struct {
		name           string
		offset, size   int64
		wantSize       int64
		wantFirst      byte
		wantErrOutside bool
	}{
		{"whole", 0, 100, 100, 0, false},
		{"window", 10, 20, 20, 10, false},
		{"to end", 40, 0, 60, 40, false},
		{"past end", 90, 20, 0, 0, true},
		{"negative offset", -1, 10, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := backend.Sub(u, tt.offset, tt.size)
			if tt.wantErrOutside {
				require.ErrorIs(t, err, backend.ErrOutOfRange)
				return
			}
			require.NoError(t, err)
			size, err := s.Size()
			require.NoError(t, err)
			require.Equal(t, tt.wantSize, size)

			b := make([]byte, 1)
			_, err = s.ReadAt(b, 0)
			require.NoError(t, err)
			require.Equal(t, tt.wantFirst, b[0])
		})
	}
}

func TestSubReadAtBounds(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	s, err := backend.Sub(testhelper.NewMemStorage(data), 10, 20)
	require.NoError(t, err)

	b := make([]byte, 10)
	n, err := s.ReadAt(b, 15)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 5, n)
	require.Equal(t, []byte{25, 26, 27, 28, 29}, b[:n])

	_, err = s.ReadAt(b, 20)
	require.ErrorIs(t, err, io.EOF)
	_, err = s.ReadAt(b, -1)
	require.ErrorIs(t, err, backend.ErrOutOfRange)
}

func TestSubSeek(t *testing.T) {
	s, err := backend.Sub(testhelper.NewMemStorage(make([]byte, 100)), 10, 20)
	require.NoError(t, err)

	pos, err := s.Seek(5, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(5), pos)
	pos, err = s.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(18), pos)
	_, err = s.Seek(0, 42)
	require.ErrorIs(t, err, backend.ErrNotSuitable)

	_, err = s.Sys()
	require.ErrorIs(t, err, backend.ErrNotSuitable)
}
