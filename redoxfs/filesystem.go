package redoxfs

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "redoxfs")

// FileSystem is the on-disk filesystem engine: the operations surface
// named in spec.md §4.4, holding exclusive mutable access to a Disk.
// It is not safe for concurrent use (see spec.md §5); callers must
// serialize requests.
type FileSystem struct {
	disk   Disk
	header *Header
}

// Open reads and validates the superblock, returning ErrBadFormat if
// the signature or version do not match (spec.md §4.1).
func Open(d Disk) (*FileSystem, error) {
	h, err := readHeader(d)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"root": h.Root, "free": h.Free, "size": h.Size}).Debug("opened filesystem")
	return &FileSystem{disk: d, header: h}, nil
}

// Format initializes a fresh filesystem of sizeBytes total size on d:
// a superblock, an empty root directory, and a free list covering every
// block not reserved by the header or root (spec.md §3 Lifecycles).
func Format(d Disk, sizeBytes uint64, now int64) (*FileSystem, error) {
	root := HeaderBlock + 1
	free := root + 1
	firstFreeBlock := free + 1
	totalBlocks := sizeBytes / BlockSize

	fs := &FileSystem{disk: d, header: &Header{
		Signature: signature(),
		Version:   version,
		Size:      sizeBytes,
		Root:      root,
		Free:      free,
	}}

	if err := writeHeader(d, fs.header); err != nil {
		return nil, err
	}

	rootNode := &Node{
		Mode:   ModeDir,
		Parent: root,
		Ctime:  now,
		Mtime:  now,
	}
	if err := writeNodeRecord(d, root, rootNode); err != nil {
		return nil, err
	}

	freeNode := &Node{}
	if totalBlocks > firstFreeBlock {
		freeNode.Extents[0] = Extent{Start: firstFreeBlock, Length: (totalBlocks - firstFreeBlock) * BlockSize}
	}
	if err := writeNodeRecord(d, free, freeNode); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"size": sizeBytes, "blocks": totalBlocks}).Info("formatted filesystem")
	return fs, nil
}

// Node reads a node record by block index.
func (fs *FileSystem) Node(block BlockAddr) (*Node, error) {
	return readNodeRecord(fs.disk, block)
}

// WriteAt re-encodes and persists a node record, for callers (the
// resource layer's utimens) that mutate a Node in place.
func (fs *FileSystem) WriteAt(block BlockAddr, n *Node) error {
	return writeNodeRecord(fs.disk, block, n)
}

// Root returns the root directory node's block index.
func (fs *FileSystem) Root() BlockAddr {
	return fs.header.Root
}

// FreeBlocks returns the number of blocks currently reachable from the
// free list head, for statfs-style reporting.
func (fs *FileSystem) FreeBlocks() (uint64, error) {
	n, err := fs.NodeLen(fs.header.Free)
	if err != nil {
		return 0, err
	}
	return n / BlockSize, nil
}

// Size returns the total filesystem size in blocks.
func (fs *FileSystem) Size() uint64 {
	return fs.header.Size / BlockSize
}

// NodeLen returns the sum of Length across every extent reachable from
// block, following Next continuations (spec.md §4.2).
func (fs *FileSystem) NodeLen(block BlockAddr) (uint64, error) {
	slots, _, err := fs.collectExtents(block)
	if err != nil {
		return 0, err
	}
	return totalLen(slots), nil
}

// ReadNode fills buf from the node's content starting at offset,
// returning the number of bytes read (short on EOF), per spec.md §4.4.
func (fs *FileSystem) ReadNode(block BlockAddr, offset uint64, buf []byte) (int, error) {
	slots, _, err := fs.collectExtents(block)
	if err != nil {
		return 0, err
	}
	return fs.readSlots(slots, offset, buf)
}

func (fs *FileSystem) readSlots(slots []extentSlot, offset uint64, buf []byte) (int, error) {
	total := totalLen(slots)
	if offset >= total {
		return 0, nil
	}
	end := offset + uint64(len(buf))
	if end > total {
		end = total
	}

	destOff := 0
	var cursor uint64
	for _, s := range slots {
		segStart := cursor
		segEnd := cursor + s.extent.Length
		cursor = segEnd
		if segEnd <= offset || segStart >= end {
			continue
		}
		readStart := segStart
		if offset > readStart {
			readStart = offset
		}
		readEnd := segEnd
		if end < readEnd {
			readEnd = end
		}
		n := int(readEnd - readStart)
		if err := fs.readBytes(s.extent.Start, readStart-segStart, buf[destOff:destOff+n]); err != nil {
			return destOff, err
		}
		destOff += n
	}
	return destOff, nil
}

func (fs *FileSystem) writeSlots(slots []extentSlot, offset uint64, src []byte) (int, error) {
	total := totalLen(slots)
	end := offset + uint64(len(src))
	if end > total {
		end = total
	}
	if offset >= end {
		return 0, nil
	}

	srcOff := 0
	var cursor uint64
	for _, s := range slots {
		segStart := cursor
		segEnd := cursor + s.extent.Length
		cursor = segEnd
		if segEnd <= offset || segStart >= end {
			continue
		}
		writeStart := segStart
		if offset > writeStart {
			writeStart = offset
		}
		writeEnd := segEnd
		if end < writeEnd {
			writeEnd = end
		}
		n := int(writeEnd - writeStart)
		if err := fs.writeBytes(s.extent.Start, writeStart-segStart, src[srcOff:srcOff+n]); err != nil {
			return srcOff, err
		}
		srcOff += n
	}
	return srcOff, nil
}

// readBytes reads len(dest) bytes starting at extentStart*BlockSize +
// byteOffset, crossing block boundaries as needed.
func (fs *FileSystem) readBytes(extentStart BlockAddr, byteOffset uint64, dest []byte) error {
	remaining := dest
	pos := byteOffset
	for len(remaining) > 0 {
		blockIdx := extentStart + pos/BlockSize
		blockOff := pos % BlockSize
		buf := make([]byte, BlockSize)
		if err := fs.disk.ReadAt(blockIdx, buf); err != nil {
			return err
		}
		n := copy(remaining, buf[blockOff:])
		remaining = remaining[n:]
		pos += uint64(n)
	}
	return nil
}

// writeBytes writes src starting at extentStart*BlockSize + byteOffset,
// read-modify-writing partial head/tail blocks.
func (fs *FileSystem) writeBytes(extentStart BlockAddr, byteOffset uint64, src []byte) error {
	remaining := src
	pos := byteOffset
	for len(remaining) > 0 {
		blockIdx := extentStart + pos/BlockSize
		blockOff := pos % BlockSize
		n := BlockSize - int(blockOff)
		if n > len(remaining) {
			n = len(remaining)
		}

		buf := make([]byte, BlockSize)
		if blockOff != 0 || n < BlockSize {
			if err := fs.disk.ReadAt(blockIdx, buf); err != nil {
				return err
			}
		}
		copy(buf[blockOff:], remaining[:n])
		if err := fs.disk.WriteAt(blockIdx, buf); err != nil {
			return err
		}
		remaining = remaining[n:]
		pos += uint64(n)
	}
	return nil
}

// WriteNode writes buf to the node's content at offset, growing the
// node first if the write extends past its current length, and
// recording mtimeSec/mtimeNsec on success (spec.md §4.4).
func (fs *FileSystem) WriteNode(block BlockAddr, offset uint64, buf []byte, mtimeSec int64, mtimeNsec uint32) (int, error) {
	curLen, err := fs.NodeLen(block)
	if err != nil {
		return 0, err
	}
	newLen := offset + uint64(len(buf))
	if newLen > curLen {
		if err := fs.NodeSetLen(block, newLen); err != nil {
			return 0, err
		}
	}

	slots, _, err := fs.collectExtents(block)
	if err != nil {
		return 0, err
	}
	n, err := fs.writeSlots(slots, offset, buf)
	if err != nil {
		return n, err
	}

	node, err := readNodeRecord(fs.disk, block)
	if err != nil {
		return n, err
	}
	node.Mtime = mtimeSec
	node.MtimeNs = mtimeNsec
	if err := writeNodeRecord(fs.disk, block, node); err != nil {
		return n, err
	}
	return n, nil
}

// NodeSetLen shrinks or grows a node's storage to exactly newLen bytes
// (spec.md §4.2). Growing allocates; shrinking deallocates and returns
// every extent beyond newLen to the free list.
func (fs *FileSystem) NodeSetLen(block BlockAddr, newLen uint64) error {
	slots, chain, err := fs.collectExtents(block)
	if err != nil {
		return err
	}
	curLen := totalLen(slots)
	if newLen == curLen {
		return nil
	}
	if newLen > curLen {
		return fs.growNode(chain, slots, newLen-curLen)
	}
	return fs.shrinkNode(block, chain, slots, newLen)
}

func (fs *FileSystem) growNode(chain []BlockAddr, slots []extentSlot, delta uint64) error {
	if len(slots) > 0 {
		last := slots[len(slots)-1]
		capacity := last.extent.Blocks() * BlockSize
		slack := capacity - last.extent.Length
		if slack > 0 {
			use := slack
			if use > delta {
				use = delta
			}
			grown := Extent{Start: last.extent.Start, Length: last.extent.Length + use}
			if err := fs.writeExtentSlot(last.nodeBlock, last.index, grown); err != nil {
				return err
			}
			delta -= use
		}
	}

	for delta > 0 {
		neededBlocks := (delta + BlockSize - 1) / BlockSize
		ext, err := fs.allocate(neededBlocks)
		if err != nil {
			return err
		}
		newExtent := Extent{Start: ext.Start, Length: delta}

		block, idx, node, err := fs.findEmptySlot(chain)
		if err != nil {
			return err
		}
		if node == nil {
			var newBlock BlockAddr
			newBlock, node, err = fs.appendContinuation(chain)
			if err != nil {
				return err
			}
			chain = append(chain, newBlock)
			node.Extents[0] = newExtent
			if err := writeNodeRecord(fs.disk, newBlock, node); err != nil {
				return err
			}
		} else {
			node.Extents[idx] = newExtent
			if err := writeNodeRecord(fs.disk, block, node); err != nil {
				return err
			}
		}
		delta = 0
	}
	return nil
}

func (fs *FileSystem) shrinkNode(head BlockAddr, chain []BlockAddr, slots []extentSlot, newLen uint64) error {
	cursor := totalLen(slots)
	for i := len(slots) - 1; i >= 0; i-- {
		s := slots[i]
		segStart := cursor - s.extent.Length
		if segStart >= newLen {
			if err := fs.deallocate(s.extent.Start, s.extent.Blocks()); err != nil {
				return err
			}
			if err := fs.writeExtentSlot(s.nodeBlock, s.index, Extent{}); err != nil {
				return err
			}
			cursor = segStart
			continue
		}
		if cursor > newLen {
			keepLen := newLen - segStart
			oldBlocks := s.extent.Blocks()
			newBlocks := (keepLen + BlockSize - 1) / BlockSize
			if newBlocks < oldBlocks {
				if err := fs.deallocate(s.extent.Start+newBlocks, oldBlocks-newBlocks); err != nil {
					return err
				}
			}
			if err := fs.writeExtentSlot(s.nodeBlock, s.index, Extent{Start: s.extent.Start, Length: keepLen}); err != nil {
				return err
			}
		}
		break
	}
	return fs.compactChain(head, chain)
}

func (fs *FileSystem) writeExtentSlot(nodeBlock BlockAddr, index int, e Extent) error {
	node, err := readNodeRecord(fs.disk, nodeBlock)
	if err != nil {
		return err
	}
	node.Extents[index] = e
	return writeNodeRecord(fs.disk, nodeBlock, node)
}

// compactChain removes now-empty continuation nodes (every chain entry
// after the head) and returns their blocks to the free list. The head
// node itself is never removed: it is the node's identity.
func (fs *FileSystem) compactChain(head BlockAddr, chain []BlockAddr) error {
	prev := head
	for _, blk := range chain {
		if blk == head {
			continue
		}
		node, err := readNodeRecord(fs.disk, blk)
		if err != nil {
			return err
		}
		if nodeEmpty(node) {
			prevNode, err := readNodeRecord(fs.disk, prev)
			if err != nil {
				return err
			}
			prevNode.Next = node.Next
			if err := writeNodeRecord(fs.disk, prev, prevNode); err != nil {
				return err
			}
			if err := fs.deallocate(blk, 1); err != nil {
				return err
			}
			continue
		}
		prev = blk
	}
	return nil
}

// childPointers decodes a directory node's packed child block list.
func (fs *FileSystem) childPointers(parent BlockAddr) ([]BlockAddr, error) {
	n, err := fs.NodeLen(parent)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := fs.ReadNode(parent, 0, buf); err != nil {
		return nil, err
	}
	ptrs := make([]BlockAddr, len(buf)/childPointerSize)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint64(buf[i*childPointerSize:])
	}
	return ptrs, nil
}

// FindNode scans parent's children for name, byte-exact and
// case-sensitive (spec.md §4.4).
func (fs *FileSystem) FindNode(name string, parent BlockAddr) (BlockAddr, *Node, error) {
	ptrs, err := fs.childPointers(parent)
	if err != nil {
		return 0, nil, err
	}
	for _, block := range ptrs {
		node, err := fs.Node(block)
		if err != nil {
			return 0, nil, err
		}
		if node.Name == name {
			return block, node, nil
		}
	}
	return 0, nil, ErrNotFound
}

// ChildEntry pairs a child's block with its decoded Node, in insertion
// order.
type ChildEntry struct {
	Block BlockAddr
	Node  *Node
}

// ChildNodes appends an entry for every child of parent, in insertion
// order (spec.md §4.4, used by readdir).
func (fs *FileSystem) ChildNodes(out *[]ChildEntry, parent BlockAddr) error {
	ptrs, err := fs.childPointers(parent)
	if err != nil {
		return err
	}
	for _, block := range ptrs {
		node, err := fs.Node(block)
		if err != nil {
			return err
		}
		*out = append(*out, ChildEntry{Block: block, Node: node})
	}
	return nil
}

// CreateNode allocates and links a new child node named name under
// parent, failing ErrExists if the name is already taken. uid/gid are
// the caller's identity, recorded on the new node (spec.md §4.4).
func (fs *FileSystem) CreateNode(mode uint32, name string, parent BlockAddr, uid, gid uint32, now int64) (BlockAddr, *Node, error) {
	if _, _, err := fs.FindNode(name, parent); err == nil {
		return 0, nil, ErrExists
	}

	ext, err := fs.allocate(1)
	if err != nil {
		return 0, nil, err
	}
	block := ext.Start

	node := &Node{
		Name:   name,
		Mode:   mode,
		Uid:    uid,
		Gid:    gid,
		Ctime:  now,
		Mtime:  now,
		Parent: parent,
	}
	if err := writeNodeRecord(fs.disk, block, node); err != nil {
		_ = fs.deallocate(block, 1)
		return 0, nil, err
	}

	if err := fs.appendChildPointer(parent, block); err != nil {
		_ = fs.deallocate(block, 1)
		return 0, nil, err
	}

	log.WithFields(logrus.Fields{"op": "create_node", "block": block, "parent": parent, "name": name}).Debug("created node")
	return block, node, nil
}

func (fs *FileSystem) appendChildPointer(parent BlockAddr, child BlockAddr) error {
	curLen, err := fs.NodeLen(parent)
	if err != nil {
		return err
	}
	if err := fs.NodeSetLen(parent, curLen+childPointerSize); err != nil {
		return err
	}
	var buf [childPointerSize]byte
	binary.LittleEndian.PutUint64(buf[:], child)
	slots, _, err := fs.collectExtents(parent)
	if err != nil {
		return err
	}
	_, err = fs.writeSlots(slots, curLen, buf[:])
	return err
}

// RemoveNode unlinks name from parent and frees its storage, failing
// ErrNotFound, ErrIsDir/ErrNotDir on a mode mismatch, or
// ErrDirNotEmpty on a non-empty directory (spec.md §4.4).
func (fs *FileSystem) RemoveNode(mode uint32, name string, parent BlockAddr) error {
	childBlock, child, err := fs.FindNode(name, parent)
	if err != nil {
		return err
	}
	if child.Mode != mode {
		if child.IsDir() {
			return ErrIsDir
		}
		return ErrNotDir
	}
	if child.IsDir() {
		var children []ChildEntry
		if err := fs.ChildNodes(&children, childBlock); err != nil {
			return err
		}
		if len(children) > 0 {
			return ErrDirNotEmpty
		}
	}

	if err := fs.removeChildPointer(parent, childBlock); err != nil {
		return err
	}

	slots, chain, err := fs.collectExtents(childBlock)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if err := fs.deallocate(s.extent.Start, s.extent.Blocks()); err != nil {
			return err
		}
	}
	for _, blk := range chain {
		if blk == childBlock {
			continue
		}
		if err := fs.deallocate(blk, 1); err != nil {
			return err
		}
	}
	if err := fs.deallocate(childBlock, 1); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"op": "remove_node", "block": childBlock, "parent": parent, "name": name}).Debug("removed node")
	return nil
}

// removeChildPointer drops child from parent's packed pointer list by
// swapping it with the last entry and shrinking by one pointer width.
func (fs *FileSystem) removeChildPointer(parent, child BlockAddr) error {
	ptrs, err := fs.childPointers(parent)
	if err != nil {
		return err
	}

	idx := -1
	for i, p := range ptrs {
		if p == child {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}

	lastIdx := len(ptrs) - 1
	if idx != lastIdx {
		var buf [childPointerSize]byte
		binary.LittleEndian.PutUint64(buf[:], ptrs[lastIdx])
		slots, _, err := fs.collectExtents(parent)
		if err != nil {
			return err
		}
		if _, err := fs.writeSlots(slots, uint64(idx*childPointerSize), buf[:]); err != nil {
			return err
		}
	}

	curLen, err := fs.NodeLen(parent)
	if err != nil {
		return err
	}
	return fs.NodeSetLen(parent, curLen-childPointerSize)
}
