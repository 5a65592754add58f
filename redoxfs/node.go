package redoxfs

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Extent describes a contiguous run of storage: Start is the first
// block, Length is the run's size in bytes. The allocated block count
// is ceil(Length / BlockSize). For directory nodes the bytes are a
// packed array of child block pointers (8 bytes each); for file nodes
// the bytes are raw file content.
type Extent struct {
	Start  BlockAddr
	Length uint64
}

// Blocks returns the number of blocks this extent occupies.
func (e Extent) Blocks() uint64 {
	return (e.Length + BlockSize - 1) / BlockSize
}

// Node is one block's worth of metadata plus up to directExtents
// inline extents, optionally continued through Next into another
// node-formatted block when more extents are needed (spec.md §3).
type Node struct {
	Name    string
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Ctime   int64
	CtimeNs uint32
	Mtime   int64
	MtimeNs uint32
	Parent  BlockAddr
	Next    BlockAddr
	Extents [directExtents]Extent
}

// IsDir reports whether n is a directory node.
func (n *Node) IsDir() bool {
	return n.Mode&ModeDir != 0
}

// IsFile reports whether n is a regular file node.
func (n *Node) IsFile() bool {
	return n.Mode&ModeFile != 0
}

func encodeNode(n *Node) []byte {
	buf := make([]byte, BlockSize)

	name := n.Name
	if len(name) > nameMaxLen {
		name = name[:nameMaxLen]
	}
	buf[0] = byte(len(name))
	copy(buf[1:nameFieldCapacity], name)

	off := nameFieldCapacity
	binary.LittleEndian.PutUint32(buf[off:], n.Mode)
	off += modeFieldSize
	binary.LittleEndian.PutUint32(buf[off:], n.Uid)
	off += uidFieldSize
	binary.LittleEndian.PutUint32(buf[off:], n.Gid)
	off += gidFieldSize
	binary.LittleEndian.PutUint64(buf[off:], uint64(n.Ctime))
	off += ctimeFieldSize
	binary.LittleEndian.PutUint32(buf[off:], n.CtimeNs)
	off += ctimeNsecFieldSize
	binary.LittleEndian.PutUint64(buf[off:], uint64(n.Mtime))
	off += mtimeFieldSize
	binary.LittleEndian.PutUint32(buf[off:], n.MtimeNs)
	off += mtimeNsecFieldSize
	binary.LittleEndian.PutUint64(buf[off:], n.Parent)
	off += parentFieldSize
	binary.LittleEndian.PutUint64(buf[off:], n.Next)
	off += nextFieldSize

	for i, e := range n.Extents {
		eoff := nodeHeaderSize + i*extentRecordSize
		binary.LittleEndian.PutUint64(buf[eoff:], e.Start)
		binary.LittleEndian.PutUint64(buf[eoff+8:], e.Length)
	}

	return buf
}

func decodeNode(buf []byte) (*Node, error) {
	if len(buf) < BlockSize {
		return nil, errors.New("node block truncated")
	}

	n := &Node{}
	nameLen := int(buf[0])
	if nameLen > nameMaxLen {
		nameLen = nameMaxLen
	}
	n.Name = string(buf[1 : 1+nameLen])

	off := nameFieldCapacity
	n.Mode = binary.LittleEndian.Uint32(buf[off:])
	off += modeFieldSize
	n.Uid = binary.LittleEndian.Uint32(buf[off:])
	off += uidFieldSize
	n.Gid = binary.LittleEndian.Uint32(buf[off:])
	off += gidFieldSize
	n.Ctime = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += ctimeFieldSize
	n.CtimeNs = binary.LittleEndian.Uint32(buf[off:])
	off += ctimeNsecFieldSize
	n.Mtime = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += mtimeFieldSize
	n.MtimeNs = binary.LittleEndian.Uint32(buf[off:])
	off += mtimeNsecFieldSize
	n.Parent = binary.LittleEndian.Uint64(buf[off:])
	off += parentFieldSize
	n.Next = binary.LittleEndian.Uint64(buf[off:])

	for i := range n.Extents {
		eoff := nodeHeaderSize + i*extentRecordSize
		n.Extents[i] = Extent{
			Start:  binary.LittleEndian.Uint64(buf[eoff:]),
			Length: binary.LittleEndian.Uint64(buf[eoff+8:]),
		}
	}

	return n, nil
}

// readNodeRecord decodes one block into a Node, per spec.md §4.2.
func readNodeRecord(d Disk, block BlockAddr) (*Node, error) {
	buf := make([]byte, BlockSize)
	if err := d.ReadAt(block, buf); err != nil {
		return nil, errors.Wrap(err, "read node record")
	}
	return decodeNode(buf)
}

// writeNodeRecord re-encodes and writes a Node, per spec.md §4.2.
func writeNodeRecord(d Disk, block BlockAddr, n *Node) error {
	return errors.Wrap(d.WriteAt(block, encodeNode(n)), "write node record")
}
