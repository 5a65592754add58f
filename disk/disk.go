// Package disk provides concrete Disk collaborators for the redoxfs
// engine: a file-backed disk for real images, and an in-memory disk
// for tests. The Disk interface itself belongs to the engine
// (redoxfs.Disk) — this package only supplies implementations.
package disk

import (
	"os"

	"github.com/pkg/errors"

	"github.com/refractalfs/redoxfs/redoxfs"
)

// File is a Disk backed by an *os.File, reading and writing one
// BlockSize-sized block at a time via ReadAt/WriteAt offsets. It
// mirrors the fd-wrapping style of a loopback file handle: a thin
// pread/pwrite shim with no caching of its own.
type File struct {
	f *os.File
}

// Open opens path for reading and writing as a block device image.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open disk image")
	}
	return &File{f: f}, nil
}

// Create creates a new image file of the given size, preallocated with
// zero bytes, ready to be formatted by redoxfs.Format.
func Create(path string, sizeBytes uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create disk image")
	}
	if err := f.Truncate(int64(sizeBytes)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "size disk image")
	}
	return &File{f: f}, nil
}

func (d *File) ReadAt(index redoxfs.BlockAddr, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(index)*redoxfs.BlockSize)
	return errors.Wrap(err, "disk read")
}

func (d *File) WriteAt(index redoxfs.BlockAddr, buf []byte) error {
	_, err := d.f.WriteAt(buf, int64(index)*redoxfs.BlockSize)
	return errors.Wrap(err, "disk write")
}

// Close releases the underlying file descriptor.
func (d *File) Close() error {
	return d.f.Close()
}

// Sync flushes the underlying file to stable storage.
func (d *File) Sync() error {
	return d.f.Sync()
}

// Mem is an in-memory Disk, sized in whole blocks, used by the engine's
// own tests in place of a real image file.
type Mem struct {
	blocks [][redoxfs.BlockSize]byte
}

// NewMem allocates an in-memory disk of size bytes, rounded up to a
// whole number of blocks.
func NewMem(size uint64) *Mem {
	n := (size + redoxfs.BlockSize - 1) / redoxfs.BlockSize
	return &Mem{blocks: make([][redoxfs.BlockSize]byte, n)}
}

func (d *Mem) ReadAt(index redoxfs.BlockAddr, buf []byte) error {
	if index >= uint64(len(d.blocks)) {
		return errors.Errorf("block %d out of range (%d blocks)", index, len(d.blocks))
	}
	copy(buf, d.blocks[index][:])
	return nil
}

func (d *Mem) WriteAt(index redoxfs.BlockAddr, buf []byte) error {
	if index >= uint64(len(d.blocks)) {
		return errors.Errorf("block %d out of range (%d blocks)", index, len(d.blocks))
	}
	copy(d.blocks[index][:], buf)
	return nil
}

// Blocks returns the disk's capacity in blocks.
func (d *Mem) Blocks() int {
	return len(d.blocks)
}
