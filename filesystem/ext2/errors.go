package ext2

import "errors"

var (
	ErrNotExt          = errors.New("not an ext2/3/4 filesystem")
	ErrNoJournal       = errors.New("filesystem has no internal journal")
	ErrInodeOutOfRange = errors.New("inode number out of range")
	ErrBlockNotMapped  = errors.New("file block is not mapped")
)
