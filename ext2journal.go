// Package ext2journal opens the journal of an ext3 or ext4 filesystem image or block device and
// scans it for transactions that must be replayed before the filesystem is used.
//
// This does **not** mount the filesystem. It reads the bytes directly:
//
//	import ext2journal "github.com/diskfs/go-ext2journal"
//
//	v, err := ext2journal.Open("/dev/sdb1")
//	if err != nil {
//		return err
//	}
//	defer v.Close()
//	if v.NeedsRecovery() {
//		res, err := v.Recover()
//		...
//	}
//
// The journal and filesystem layers are available on their own in the journal and
// filesystem/ext2 packages.
package ext2journal

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/diskfs/go-ext2journal/backend"
	"github.com/diskfs/go-ext2journal/backend/file"
	"github.com/diskfs/go-ext2journal/filesystem/ext2"
	"github.com/diskfs/go-ext2journal/journal"
)

// Volume is a filesystem with its journal open
type Volume struct {
	Storage    backend.Storage
	FileSystem *ext2.FileSystem
	Journal    *journal.Journal
	log        logrus.FieldLogger
}

type options struct {
	log     logrus.FieldLogger
	metrics *journal.Metrics
	visitor journal.BlockVisitor
	start   int64
	size    int64
}

// Opt configures Open
type Opt func(o *options)

// WithLogger sets the logger handed to the filesystem and the journal
func WithLogger(log logrus.FieldLogger) Opt {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics records recovery scans in m
func WithMetrics(m *journal.Metrics) Opt {
	return func(o *options) {
		o.metrics = m
	}
}

// WithBlockVisitor hands every data block found by Recover to v
func WithBlockVisitor(v journal.BlockVisitor) Opt {
	return func(o *options) {
		o.visitor = v
	}
}

// WithOffset reads the filesystem from size bytes at byte start of the device, e.g. a partition
// of a whole disk. A size of 0 runs to the end of the device.
func WithOffset(start, size int64) Opt {
	return func(o *options) {
		o.start = start
		o.size = size
	}
}

// Open opens the filesystem on a device or image file read-only, along with its journal.
// Should pass a path to a block device e.g. /dev/sda1 or a path to a file /tmp/foo.img
func Open(device string, opts ...Opt) (*Volume, error) {
	storage, err := file.OpenFromPath(device)
	if err != nil {
		return nil, err
	}
	v, err := OpenStorage(storage, opts...)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	return v, nil
}

// OpenStorage opens the filesystem and journal on storage the caller already has. The Volume
// takes ownership of it only on success.
func OpenStorage(storage backend.Storage, opts ...Opt) (*Volume, error) {
	o := &options{
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	fs, err := ext2.Read(storage, o.size, o.start, ext2.WithLogger(o.log))
	if err != nil {
		return nil, fmt.Errorf("could not read filesystem: %w", err)
	}
	if !fs.HasJournal() {
		return nil, ext2.ErrNoJournal
	}

	j, err := journal.Open(fs,
		journal.WithLogger(o.log),
		journal.WithMetrics(o.metrics),
		journal.WithBlockVisitor(o.visitor),
	)
	if err != nil {
		return nil, err
	}
	o.log.WithFields(logrus.Fields{
		"label": fs.Label(),
		"uuid":  fs.UUID(),
		"state": j.State(),
	}).Info("opened filesystem journal")
	return &Volume{
		Storage:    storage,
		FileSystem: fs,
		Journal:    j,
		log:        o.log,
	}, nil
}

// NeedsRecovery reports whether the filesystem was not cleanly unmounted
func (v *Volume) NeedsRecovery() bool {
	return v.Journal.NeedsRecovery()
}

// Recover scans the journal. Running into the end of the written log is the normal way for a scan
// to stop, so it is not an error here; the reason is in the result.
func (v *Volume) Recover() (*journal.RecoveryResult, error) {
	res, err := v.Journal.Recover()
	if err != nil && journal.IsEndOfLog(err) {
		v.log.WithError(err).Debug("journal scan reached end of log")
		return res, nil
	}
	return res, err
}

// Close closes the journal, the filesystem and the storage under them
func (v *Volume) Close() error {
	if v == nil {
		return nil
	}
	var errs []error
	if v.FileSystem != nil {
		errs = append(errs, v.FileSystem.Close())
		v.FileSystem = nil
		v.Journal = nil
	}
	if v.Storage != nil {
		errs = append(errs, v.Storage.Close())
		v.Storage = nil
	}
	return errors.Join(errs...)
}
