package journal

// ReservedJournalInode is the inode number ext3/ext4 reserve for an internal journal
const ReservedJournalInode uint32 = 8

// Mount is the host filesystem a journal belongs to
type Mount interface {
	// JournalInode returns the journal inode number configured in the filesystem superblock
	JournalInode() uint32
	// BlockSize returns the filesystem block size in bytes
	BlockSize() uint32
	// IsClean reports whether the filesystem superblock says it was cleanly unmounted
	IsClean() bool
	// ResolveInode returns a handle to the file backing the given inode
	ResolveInode(number uint32) (Handle, error)
}

// Handle is the backing object of a journal, addressed in journal-relative blocks
type Handle interface {
	// ReadBlock reads logical block `block` of the object, size bytes long
	ReadBlock(block uint64, size uint32) ([]byte, error)
	// Lock takes an exclusive lock on the object
	Lock() error
	// Unlock drops the lock taken with Lock
	Unlock() error
	// Release gives the handle back. It is not used again afterwards.
	Release() error
}

// Registrar is implemented by mounts that keep a reference to their open journal
type Registrar interface {
	RegisterJournal(j *Journal)
}
