// Package scheme dispatches Redox-style scheme calls (open/close/dup,
// read/write/seek, fcntl/fpath/fstat/ftruncate/fsync/futimens) onto a
// redoxfs engine through a handle table of resource.Resource values
// (spec.md §5, §7). It is a thin command router, not a kernel IPC
// transport: a host drives it one call at a time. The FUSE adapter does
// not go through it; it calls the engine directly.
package scheme

import (
	"path"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/refractalfs/redoxfs/redoxfs"
	"github.com/refractalfs/redoxfs/resource"
)

var log = logrus.WithField("component", "scheme")

// Scheme owns the engine and the table of open handles, serializing
// every call behind a single mutex (spec.md §5: the engine itself has
// no internal locking, so the scheme is where concurrent callers are
// made safe).
type Scheme struct {
	mu     sync.Mutex
	engine *redoxfs.FileSystem
	next   uint64
	open   map[uint64]resource.Resource
}

// New wraps engine in a Scheme with an empty handle table.
func New(engine *redoxfs.FileSystem) *Scheme {
	return &Scheme{engine: engine, open: make(map[uint64]resource.Resource)}
}

func errnoOf(err error) syscall.Errno {
	if err == nil {
		return redoxfs.OK
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return redoxfs.ErrIO
}

// Open resolves pathname against the engine and creates a new handle,
// honoring O_CREAT/O_EXCL/O_DIRECTORY/O_TRUNC the way the reference
// scheme host does (spec.md §7).
func (s *Scheme) Open(pathname string, flags int, uid, gid uint32) (uint64, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clean := strings.TrimPrefix(path.Clean("/"+pathname), "/")
	parent := s.engine.Root()
	name := clean
	if clean != "" {
		segments := strings.Split(clean, "/")
		name = segments[len(segments)-1]
		for _, seg := range segments[:len(segments)-1] {
			block, node, err := s.engine.FindNode(seg, parent)
			if err != nil {
				return 0, errnoOf(err)
			}
			if !node.IsDir() {
				return 0, redoxfs.ErrNotDir
			}
			parent = block
		}
	}

	var block redoxfs.BlockAddr
	var node *redoxfs.Node
	var err error
	if name == "" {
		block = parent
		node, err = s.engine.Node(parent)
		if err != nil {
			return 0, errnoOf(err)
		}
	} else {
		block, node, err = s.engine.FindNode(name, parent)
		if err != nil {
			if errnoOf(err) != redoxfs.ErrNotFound || flags&unix.O_CREAT == 0 {
				return 0, errnoOf(err)
			}
			block, node, err = s.engine.CreateNode(redoxfs.ModeFile, name, parent, uid, gid, 0)
			if err != nil {
				return 0, errnoOf(err)
			}
		} else if flags&unix.O_CREAT != 0 && flags&unix.O_EXCL != 0 {
			return 0, redoxfs.ErrExists
		}
	}

	if flags&unix.O_DIRECTORY != 0 && !node.IsDir() {
		return 0, redoxfs.ErrNotDir
	}

	var res resource.Resource
	if node.IsDir() {
		var children []redoxfs.ChildEntry
		if err := s.engine.ChildNodes(&children, block); err != nil {
			return 0, errnoOf(err)
		}
		res = resource.NewDirResource(pathname, block, encodeChildren(children))
	} else {
		if flags&unix.O_TRUNC != 0 {
			if err := s.engine.NodeSetLen(block, 0); err != nil {
				return 0, errnoOf(err)
			}
		}
		res = resource.NewFileResource(pathname, block, flags, 0, uid)
	}

	s.next++
	id := s.next
	s.open[id] = res
	log.WithField("handle", id).Debug("opened handle")
	return id, redoxfs.OK
}

func encodeChildren(children []redoxfs.ChildEntry) []byte {
	var buf []byte
	for _, c := range children {
		buf = append(buf, []byte(c.Node.Name)...)
		buf = append(buf, '\n')
	}
	return buf
}

func (s *Scheme) handle(id uint64) (resource.Resource, syscall.Errno) {
	res, ok := s.open[id]
	if !ok {
		return nil, redoxfs.ErrBadFile
	}
	return res, redoxfs.OK
}

// Close releases a handle. Closing an unknown id is EBADF.
func (s *Scheme) Close(id uint64) syscall.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[id]; !ok {
		return redoxfs.ErrBadFile
	}
	delete(s.open, id)
	return redoxfs.OK
}

// Dup duplicates a handle, giving the copy its own independent seek
// position (spec.md §4.5).
func (s *Scheme) Dup(id uint64) (uint64, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return 0, errno
	}
	s.next++
	newID := s.next
	s.open[newID] = res.Dup()
	return newID, redoxfs.OK
}

// Read reads into buf from the handle's current seek position.
func (s *Scheme) Read(id uint64, buf []byte) (int, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return 0, errno
	}
	return res.Read(buf, s.engine)
}

// Write writes buf at the handle's current seek position.
func (s *Scheme) Write(id uint64, buf []byte) (int, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return 0, errno
	}
	return res.Write(buf, s.engine)
}

// Lseek repositions the handle's seek cursor.
func (s *Scheme) Lseek(id uint64, offset int64, whence int) (int64, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return 0, errno
	}
	return res.Seek(offset, whence, s.engine)
}

// Fcntl implements F_GETFL/F_SETFL against the handle's stored flags.
func (s *Scheme) Fcntl(id uint64, cmd, arg int) (int, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return 0, errno
	}
	return res.Fcntl(cmd, arg)
}

// Fpath copies the handle's open path into buf, returning the number
// of bytes written.
func (s *Scheme) Fpath(id uint64, buf []byte) (int, syscall.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return 0, errno
	}
	return res.Path(buf), redoxfs.OK
}

// Fstat fills out with the handle's node attributes.
func (s *Scheme) Fstat(id uint64, out *unix.Stat_t) syscall.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return errno
	}
	return res.Stat(out, s.engine)
}

// Ftruncate resizes the handle's underlying file.
func (s *Scheme) Ftruncate(id uint64, length int64) syscall.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return errno
	}
	return res.Truncate(length, s.engine)
}

// Fsync flushes the handle; the engine is write-through, so this
// mainly exists to satisfy callers that expect the call to exist.
func (s *Scheme) Fsync(id uint64) syscall.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return errno
	}
	return res.Sync()
}

// Futimens sets the handle's mtime from times[1]; no atime is stored.
func (s *Scheme) Futimens(id uint64, times [2]unix.Timespec) syscall.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, errno := s.handle(id)
	if errno != redoxfs.OK {
		return errno
	}
	return res.Utimens(times, s.engine)
}
