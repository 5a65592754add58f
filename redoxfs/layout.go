// Package redoxfs implements the on-disk layout, allocation, and node
// operations of a small block-addressed filesystem: header, free list,
// extents, directory and file nodes, and the read/write/truncate
// operations built on top of them.
//
// The engine holds exclusive mutable access to a Disk and is not safe
// for concurrent use: callers (fuseadapter, scheme) are responsible for
// serializing requests into a single *FileSystem, matching the
// single-threaded cooperative model the on-disk invariants assume.
package redoxfs

import "syscall"

// BlockAddr identifies a fixed-size block on the backing Disk.
type BlockAddr = uint64

const (
	// BlockSize is the fixed size, in bytes, of every disk block.
	BlockSize = 512

	// BootBytes is the reserved boot-sector region at the start of the
	// disk; it is never interpreted by the engine.
	BootBytes = 1024

	// HeaderBlock is the fixed block index of the superblock.
	HeaderBlock BlockAddr = BootBytes / BlockSize

	// signatureString is the fixed 8-byte tag every valid header must carry.
	signatureString = "RedoxFS\000"

	// version is the on-disk format version this engine reads/writes.
	version = 1

	// nameFieldCapacity is the name field's on-disk width: one
	// length-prefix byte plus raw name bytes, bounded to a fixed
	// capacity (spec.md §6: "name[256] truncated").
	nameFieldCapacity = 256
	nameMaxLen        = nameFieldCapacity - 1

	// Fixed-width metadata fields that follow the name field in a node
	// record, in on-disk order.
	modeFieldSize      = 4
	uidFieldSize       = 4
	gidFieldSize       = 4
	ctimeFieldSize     = 8
	ctimeNsecFieldSize = 4
	mtimeFieldSize     = 8
	mtimeNsecFieldSize = 4
	parentFieldSize    = 8
	nextFieldSize      = 8

	// nodeHeaderSize is the fixed-size metadata prefix of a node
	// record (name field + the fields above), before its inline extent
	// array.
	nodeHeaderSize = nameFieldCapacity + modeFieldSize + uidFieldSize + gidFieldSize +
		ctimeFieldSize + ctimeNsecFieldSize + mtimeFieldSize + mtimeNsecFieldSize +
		parentFieldSize + nextFieldSize

	// extentRecordSize is the encoded size of one Extent: two u64s.
	extentRecordSize = 16

	// directExtents is the number of extents stored inline in a node
	// record, after the fixed header.
	directExtents = (BlockSize - nodeHeaderSize) / extentRecordSize

	// childPointerSize is the byte width of one directory child
	// pointer packed into a directory node's extent data.
	childPointerSize = 8
)

// Node modes. A node is either a directory or a regular file; there is
// no third kind (no symlinks, no hard links — see spec Non-goals).
const (
	ModeDir  uint32 = 0x4000 // S_IFDIR
	ModeFile uint32 = 0x8000 // S_IFREG
)

// Errno aliases, kept local so callers need only import "syscall" to
// compare, matching the convention github.com/hanwen/go-fuse/v2/fs uses
// (OK = syscall.Errno(0)).
const (
	OK             = syscall.Errno(0)
	ErrNotFound    = syscall.ENOENT
	ErrExists      = syscall.EEXIST
	ErrIsDir       = syscall.EISDIR
	ErrNotDir      = syscall.ENOTDIR
	ErrDirNotEmpty = syscall.ENOTEMPTY
	ErrBadFile     = syscall.EBADF
	ErrInvalid     = syscall.EINVAL
	ErrNoSpace     = syscall.ENOSPC
	ErrBadFormat   = syscall.EINVAL
	ErrIO          = syscall.EIO
)
