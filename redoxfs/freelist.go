package redoxfs

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var freelistLog = logrus.WithField("component", "redoxfs.freelist")

// allocate returns a contiguous extent of at least minBlocks blocks,
// first-fit over the free-list chain starting at fs.header.Free
// (spec.md §4.3).
func (fs *FileSystem) allocate(minBlocks uint64) (Extent, error) {
	if minBlocks == 0 {
		minBlocks = 1
	}

	var prev BlockAddr
	hasPrev := false
	block := fs.header.Free

	for block != 0 {
		node, err := readNodeRecord(fs.disk, block)
		if err != nil {
			return Extent{}, err
		}

		for i := range node.Extents {
			e := node.Extents[i]
			if e.Length == 0 {
				continue
			}
			total := e.Blocks()
			if total < minBlocks {
				continue
			}

			if total == minBlocks {
				node.Extents[i] = Extent{}
				if err := writeNodeRecord(fs.disk, block, node); err != nil {
					return Extent{}, err
				}
				if nodeEmpty(node) {
					if err := fs.unlinkFreeNode(prev, hasPrev, block, node.Next); err != nil {
						return Extent{}, err
					}
				}
				return e, nil
			}

			remainderBlocks := total - minBlocks
			remainder := Extent{Start: e.Start, Length: remainderBlocks * BlockSize}
			allocated := Extent{Start: e.Start + remainderBlocks, Length: minBlocks * BlockSize}
			node.Extents[i] = remainder
			if err := writeNodeRecord(fs.disk, block, node); err != nil {
				return Extent{}, err
			}
			return allocated, nil
		}

		prev = block
		hasPrev = true
		block = node.Next
	}

	return Extent{}, ErrNoSpace
}

// unlinkFreeNode removes an emptied free-list node from the chain and
// returns its own block to the free list.
func (fs *FileSystem) unlinkFreeNode(prev BlockAddr, hasPrev bool, block, next BlockAddr) error {
	if hasPrev {
		prevNode, err := readNodeRecord(fs.disk, prev)
		if err != nil {
			return err
		}
		prevNode.Next = next
		if err := writeNodeRecord(fs.disk, prev, prevNode); err != nil {
			return err
		}
	} else {
		fs.header.Free = next
		if err := writeHeader(fs.disk, fs.header); err != nil {
			return err
		}
	}
	freelistLog.WithField("block", block).Debug("unlinked empty free-list node")
	return fs.deallocate(block, 1)
}

// nodeEmpty reports whether every extent slot in n is unused.
func nodeEmpty(n *Node) bool {
	for _, e := range n.Extents {
		if e.Length != 0 {
			return false
		}
	}
	return true
}

// deallocate returns [start, start+blocks) to the free list, coalescing
// with an adjacent extent on the head free-list node when possible
// (spec.md §4.3). It does not fail except on underlying I/O error.
func (fs *FileSystem) deallocate(start BlockAddr, blocks uint64) error {
	if blocks == 0 {
		return nil
	}
	length := blocks * BlockSize

	if fs.header.Free == 0 {
		return fs.newFreeListNode(0, Extent{Start: start, Length: length})
	}

	head, err := readNodeRecord(fs.disk, fs.header.Free)
	if err != nil {
		return err
	}

	for i := range head.Extents {
		e := head.Extents[i]
		if e.Length == 0 {
			continue
		}
		if e.Start+e.Blocks() == start {
			head.Extents[i] = Extent{Start: e.Start, Length: e.Length + length}
			return writeNodeRecord(fs.disk, fs.header.Free, head)
		}
		if start+blocks == e.Start {
			head.Extents[i] = Extent{Start: start, Length: e.Length + length}
			return writeNodeRecord(fs.disk, fs.header.Free, head)
		}
	}

	for i := range head.Extents {
		if head.Extents[i].Length == 0 {
			head.Extents[i] = Extent{Start: start, Length: length}
			return writeNodeRecord(fs.disk, fs.header.Free, head)
		}
	}

	// Head node has no empty slot and no adjacency to merge with: the
	// freed range becomes a brand new free-list node, chained in front
	// of the current head. Its own first block hosts the node record;
	// any blocks beyond that become its sole inline extent.
	return fs.newFreeListNode(fs.header.Free, Extent{Start: start, Length: length})
}

// newFreeListNode turns the first block of extent into a new free-list
// node (Next = next), holding whatever blocks remain of extent beyond
// that first block, and makes it the new free-list head.
func (fs *FileSystem) newFreeListNode(next BlockAddr, extent Extent) error {
	blocks := extent.Blocks()
	if blocks == 0 {
		return errors.New("cannot create free-list node from empty extent")
	}

	node := &Node{Next: next}
	if blocks > 1 {
		remaining := blocks - 1
		node.Extents[0] = Extent{Start: extent.Start + 1, Length: remaining * BlockSize}
	}

	if err := writeNodeRecord(fs.disk, extent.Start, node); err != nil {
		return err
	}

	fs.header.Free = extent.Start
	return writeHeader(fs.disk, fs.header)
}
