// Package resource implements the per-open handle state machine driving
// the redoxfs engine from a POSIX-style handle: DirResource and
// FileResource, sharing the Resource operation set (spec.md §4.5).
// Ported from the Redox scheme host's resource.rs trait into Go idiom:
// methods take an explicit *redoxfs.FileSystem borrow instead of a
// stored back-pointer (spec.md §9 "Engine mutation discipline").
package resource

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/refractalfs/redoxfs/redoxfs"
)

// Resource is the common operation set shared by DirResource and
// FileResource (spec.md §4.5).
type Resource interface {
	Dup() Resource
	Read(buf []byte, fs *redoxfs.FileSystem) (int, syscall.Errno)
	Write(buf []byte, fs *redoxfs.FileSystem) (int, syscall.Errno)
	Seek(offset int64, whence int, fs *redoxfs.FileSystem) (int64, syscall.Errno)
	Fcntl(cmd int, arg int) (int, syscall.Errno)
	Path(buf []byte) int
	Stat(out *unix.Stat_t, fs *redoxfs.FileSystem) syscall.Errno
	Sync() syscall.Errno
	Truncate(length int64, fs *redoxfs.FileSystem) syscall.Errno
	Utimens(times [2]unix.Timespec, fs *redoxfs.FileSystem) syscall.Errno
}

func fillStat(out *unix.Stat_t, block redoxfs.BlockAddr, n *redoxfs.Node, size uint64) {
	*out = unix.Stat_t{
		Ino:     block,
		Mode:    n.Mode,
		Nlink:   1,
		Uid:     n.Uid,
		Gid:     n.Gid,
		Size:    int64(size),
		Mtim:    unix.Timespec{Sec: n.Mtime, Nsec: int64(n.MtimeNs)},
		Ctim:    unix.Timespec{Sec: n.Ctime, Nsec: int64(n.CtimeNs)},
	}
}

func clampSeek(offset, cur, size int64, whence int) (int64, syscall.Errno) {
	switch whence {
	case unix.SEEK_SET:
		if offset < 0 {
			offset = 0
		}
		return offset, redoxfs.OK
	case unix.SEEK_CUR:
		n := cur + offset
		if n < 0 {
			n = 0
		}
		return n, redoxfs.OK
	case unix.SEEK_END:
		n := size + offset
		if n < 0 {
			n = 0
		}
		return n, redoxfs.OK
	default:
		return 0, redoxfs.ErrInvalid
	}
}

// DirResource is a handle onto an opened directory. data, when present,
// is a pre-materialized listing the host enumerated once (spec.md
// §4.5); without it, reads fail EISDIR.
type DirResource struct {
	path    string
	block   redoxfs.BlockAddr
	data    []byte
	hasData bool
	seek    int64
}

// NewDirResource constructs a DirResource. data may be nil if the host
// has not materialized a listing for this handle.
func NewDirResource(path string, block redoxfs.BlockAddr, data []byte) *DirResource {
	return &DirResource{path: path, block: block, data: data, hasData: data != nil}
}

func (d *DirResource) Dup() Resource {
	cp := *d
	return &cp
}

func (d *DirResource) Read(buf []byte, _ *redoxfs.FileSystem) (int, syscall.Errno) {
	if !d.hasData {
		return 0, redoxfs.ErrIsDir
	}
	i := 0
	for i < len(buf) && d.seek < int64(len(d.data)) {
		buf[i] = d.data[d.seek]
		i++
		d.seek++
	}
	return i, redoxfs.OK
}

func (d *DirResource) Write(_ []byte, _ *redoxfs.FileSystem) (int, syscall.Errno) {
	return 0, redoxfs.ErrBadFile
}

func (d *DirResource) Seek(offset int64, whence int, _ *redoxfs.FileSystem) (int64, syscall.Errno) {
	if !d.hasData {
		return 0, redoxfs.ErrBadFile
	}
	n, errno := clampSeek(offset, d.seek, int64(len(d.data)), whence)
	if errno != redoxfs.OK {
		return 0, errno
	}
	if n > int64(len(d.data)) {
		n = int64(len(d.data))
	}
	d.seek = n
	return d.seek, redoxfs.OK
}

func (d *DirResource) Fcntl(_ int, _ int) (int, syscall.Errno) {
	return 0, redoxfs.ErrBadFile
}

func (d *DirResource) Path(buf []byte) int {
	return copy(buf, d.path)
}

func (d *DirResource) Stat(out *unix.Stat_t, fs *redoxfs.FileSystem) syscall.Errno {
	n, err := fs.Node(d.block)
	if err != nil {
		return redoxfs.ErrIO
	}
	size, err := fs.NodeLen(d.block)
	if err != nil {
		return redoxfs.ErrIO
	}
	fillStat(out, d.block, n, size)
	return redoxfs.OK
}

func (d *DirResource) Sync() syscall.Errno {
	return redoxfs.ErrBadFile
}

func (d *DirResource) Truncate(_ int64, _ *redoxfs.FileSystem) syscall.Errno {
	return redoxfs.ErrBadFile
}

func (d *DirResource) Utimens(_ [2]unix.Timespec, _ *redoxfs.FileSystem) syscall.Errno {
	return redoxfs.ErrBadFile
}

// FileResource is a handle onto an opened regular file, gated by the
// access mode recorded at open time (spec.md §4.5).
type FileResource struct {
	path  string
	block redoxfs.BlockAddr
	flags int
	seek  int64
	uid   uint32
}

// NewFileResource constructs a FileResource.
func NewFileResource(path string, block redoxfs.BlockAddr, flags int, seek int64, uid uint32) *FileResource {
	return &FileResource{path: path, block: block, flags: flags, seek: seek, uid: uid}
}

func (f *FileResource) Dup() Resource {
	cp := *f
	return &cp
}

func (f *FileResource) accmode() int {
	return f.flags & unix.O_ACCMODE
}

func (f *FileResource) Read(buf []byte, fs *redoxfs.FileSystem) (int, syscall.Errno) {
	mode := f.accmode()
	if mode != unix.O_RDONLY && mode != unix.O_RDWR {
		return 0, redoxfs.ErrBadFile
	}
	n, err := fs.ReadNode(f.block, uint64(f.seek), buf)
	if err != nil {
		return 0, redoxfs.ErrIO
	}
	f.seek += int64(n)
	return n, redoxfs.OK
}

func (f *FileResource) Write(buf []byte, fs *redoxfs.FileSystem) (int, syscall.Errno) {
	mode := f.accmode()
	if mode != unix.O_WRONLY && mode != unix.O_RDWR {
		return 0, redoxfs.ErrBadFile
	}
	now := time.Now()
	n, err := fs.WriteNode(f.block, uint64(f.seek), buf, now.Unix(), uint32(now.Nanosecond()))
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			return 0, errno
		}
		return 0, redoxfs.ErrIO
	}
	f.seek += int64(n)
	return n, redoxfs.OK
}

// Seek clamps only the low end to 0; unlike DirResource, files permit
// seeking past EOF (spec.md §4.5).
func (f *FileResource) Seek(offset int64, whence int, fs *redoxfs.FileSystem) (int64, syscall.Errno) {
	size, err := fs.NodeLen(f.block)
	if err != nil {
		return 0, redoxfs.ErrIO
	}
	n, errno := clampSeek(offset, f.seek, int64(size), whence)
	if errno != redoxfs.OK {
		return 0, errno
	}
	f.seek = n
	return f.seek, redoxfs.OK
}

func (f *FileResource) Fcntl(cmd int, arg int) (int, syscall.Errno) {
	switch cmd {
	case unix.F_GETFL:
		return f.flags, redoxfs.OK
	case unix.F_SETFL:
		f.flags = (f.flags & unix.O_ACCMODE) | (arg &^ unix.O_ACCMODE)
		return 0, redoxfs.OK
	default:
		return 0, redoxfs.ErrInvalid
	}
}

func (f *FileResource) Path(buf []byte) int {
	return copy(buf, f.path)
}

func (f *FileResource) Stat(out *unix.Stat_t, fs *redoxfs.FileSystem) syscall.Errno {
	n, err := fs.Node(f.block)
	if err != nil {
		return redoxfs.ErrIO
	}
	size, err := fs.NodeLen(f.block)
	if err != nil {
		return redoxfs.ErrIO
	}
	fillStat(out, f.block, n, size)
	return redoxfs.OK
}

// Sync is a no-op success: the engine is already write-through
// (spec.md §4.5).
func (f *FileResource) Sync() syscall.Errno {
	return redoxfs.OK
}

func (f *FileResource) Truncate(length int64, fs *redoxfs.FileSystem) syscall.Errno {
	mode := f.accmode()
	if mode != unix.O_WRONLY && mode != unix.O_RDWR {
		return redoxfs.ErrBadFile
	}
	if err := fs.NodeSetLen(f.block, uint64(length)); err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			return errno
		}
		return redoxfs.ErrIO
	}
	return redoxfs.OK
}

// Utimens sets mtime from times[1] if the caller owns the node or is
// root; times[0] is not used. times is a fixed pair, so there is no
// missing-entry case: times[1] is always written (spec.md §4.5).
func (f *FileResource) Utimens(times [2]unix.Timespec, fs *redoxfs.FileSystem) syscall.Errno {
	n, err := fs.Node(f.block)
	if err != nil {
		return redoxfs.ErrIO
	}
	if n.Uid != f.uid && f.uid != 0 {
		return redoxfs.ErrBadFile
	}
	n.Mtime = times[1].Sec
	n.MtimeNs = uint32(times[1].Nsec)
	if err := fs.WriteAt(f.block, n); err != nil {
		return redoxfs.ErrIO
	}
	return redoxfs.OK
}
