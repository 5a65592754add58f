// Package fuseadapter hosts the redoxfs engine behind a FUSE mount
// using github.com/hanwen/go-fuse/v2's InodeEmbedder API. It translates
// fs.Inode/FileHandle lifecycle calls into redoxfs.FileSystem
// operations and POSIX errno results (spec.md §7), mirroring the node
// Filesystem trait implementation this host was ported from.
package fuseadapter

import (
	"context"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/refractalfs/redoxfs/redoxfs"
)

var log = logrus.WithField("component", "fuseadapter")

// Root builds the InodeEmbedder for the root of engine, ready to be
// passed to fs.Mount.
func Root(engine *redoxfs.FileSystem) fs.InodeEmbedder {
	return &Node{engine: engine, block: engine.Root()}
}

// Node is a single directory entry or file, identified by the block
// address of its redoxfs node record. All Node values backed by the
// same engine share it; the engine itself is not safe for concurrent
// use, so the host must mount with a single-threaded FUSE server, as
// cmd/redoxfs does (spec.md §5).
type Node struct {
	fs.Inode

	engine *redoxfs.FileSystem
	block  redoxfs.BlockAddr
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeWriter = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeStatfser = (*Node)(nil)

// ino maps a redoxfs block address to a FUSE inode number, matching
// the original host's offset-by-one so the filesystem root always
// reports inode 1 (original_source/fuse/main.rs block_inode).
func ino(engine *redoxfs.FileSystem, block redoxfs.BlockAddr) uint64 {
	return uint64(block) - uint64(engine.Root()) + 1
}

func stableAttr(engine *redoxfs.FileSystem, block redoxfs.BlockAddr, n *redoxfs.Node) fs.StableAttr {
	mode := uint32(fuse.S_IFREG)
	if n.IsDir() {
		mode = fuse.S_IFDIR
	}
	return fs.StableAttr{Mode: mode, Ino: ino(engine, block)}
}

func fillAttr(out *fuse.Attr, engine *redoxfs.FileSystem, block redoxfs.BlockAddr, n *redoxfs.Node, size uint64) {
	out.Ino = ino(engine, block)
	out.Size = size
	out.Blocks = (size + redoxfs.BlockSize - 1) / redoxfs.BlockSize
	out.Mode = 0o777
	if n.IsDir() {
		out.Mode |= fuse.S_IFDIR
	} else {
		out.Mode |= fuse.S_IFREG
	}
	out.Nlink = 1
	out.Uid = n.Uid
	out.Gid = n.Gid
	out.Mtime = uint64(n.Mtime)
	out.Mtimensec = n.MtimeNs
	out.Ctime = uint64(n.Ctime)
	out.Ctimensec = n.CtimeNs
	out.Atime = out.Mtime
	out.Atimensec = out.Mtimensec
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

// Lookup resolves name within the directory this Node represents.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	block, node, err := n.engine.FindNode(name, n.block)
	if err != nil {
		return nil, errnoOf(err)
	}
	size, err := n.engine.NodeLen(block)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, n.engine, block, node, size)
	child := &Node{engine: n.engine, block: block}
	return n.NewInode(ctx, child, stableAttr(n.engine, block, node)), redoxfs.OK
}

// Getattr reports the node's current attributes.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	node, err := n.engine.Node(n.block)
	if err != nil {
		return errnoOf(err)
	}
	size, err := n.engine.NodeLen(n.block)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, n.engine, n.block, node, size)
	return redoxfs.OK
}

// Setattr honors a Size change by growing or truncating the node's
// extent chain (the resolved form of the original host's unimplemented
// setattr/truncate TODO); other requested fields are accepted without
// effect, matching the engine's fixed-permission model.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.engine.NodeSetLen(n.block, size); err != nil {
			return errnoOf(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

// Read copies up to len(dest) bytes from off into dest; the result is
// short at end of file.
func (n *Node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	count, err := n.engine.ReadNode(n.block, uint64(off), dest)
	if err != nil {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:count]), redoxfs.OK
}

// Write stores data at off, extending the node if necessary.
func (n *Node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	now := wallClock()
	count, err := n.engine.WriteNode(n.block, uint64(off), data, now.sec, now.nsec)
	if err != nil {
		return 0, errnoOf(err)
	}
	return uint32(count), redoxfs.OK
}

// Readdir lists the directory's children; "." and ".." are synthesized
// by the fs package itself, so only real children are returned here.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var children []redoxfs.ChildEntry
	if err := n.engine.ChildNodes(&children, n.block); err != nil {
		return nil, errnoOf(err)
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(fuse.S_IFREG)
		if c.Node.IsDir() {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{
			Mode: mode,
			Name: c.Node.Name,
			Ino:  ino(n.engine, c.Block),
		})
	}
	return fs.NewListDirStream(entries), redoxfs.OK
}

// Create makes a new regular file named name inside this directory.
func (n *Node) Create(ctx context.Context, name string, flags, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	now := wallClock()
	block, node, err := n.engine.CreateNode(redoxfs.ModeFile, name, n.block, 0, 0, now.sec)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	log.WithField("name", name).Debug("created file")
	fillAttr(&out.Attr, n.engine, block, node, 0)
	child := &Node{engine: n.engine, block: block}
	inode := n.NewInode(ctx, child, stableAttr(n.engine, block, node))
	return inode, nil, 0, redoxfs.OK
}

// Mkdir makes a new subdirectory named name inside this directory.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	now := wallClock()
	block, node, err := n.engine.CreateNode(redoxfs.ModeDir, name, n.block, 0, 0, now.sec)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, n.engine, block, node, 0)
	child := &Node{engine: n.engine, block: block}
	return n.NewInode(ctx, child, stableAttr(n.engine, block, node)), redoxfs.OK
}

// Unlink removes a regular file child.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.engine.RemoveNode(redoxfs.ModeFile, name, n.block))
}

// Rmdir removes an empty directory child.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.engine.RemoveNode(redoxfs.ModeDir, name, n.block))
}

// Statfs reports aggregate filesystem capacity, computed from the
// length of the whole free-list chain the way the original host read it.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	free, err := n.engine.FreeBlocks()
	if err != nil {
		return errnoOf(err)
	}
	out.Blocks = n.engine.Size()
	out.Bfree = free
	out.Bavail = free
	out.Bsize = redoxfs.BlockSize
	out.NameLen = 255
	return redoxfs.OK
}

type timestamp struct {
	sec  int64
	nsec uint32
}

var wallClockMu sync.Mutex

// wallClock is the single seam the adapter uses for "now"; kept as a
// function so tests can observe deterministic mtimes if ever needed.
func wallClock() timestamp {
	wallClockMu.Lock()
	defer wallClockMu.Unlock()
	t := nowFunc()
	return timestamp{sec: t.Unix(), nsec: uint32(t.Nanosecond())}
}
