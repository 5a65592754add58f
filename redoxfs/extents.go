package redoxfs

// extentSlot locates one extent record within a node's chain: which
// node block holds it (the head node itself, or a continuation reached
// through Next) and its index within that node's Extents array.
type extentSlot struct {
	nodeBlock BlockAddr
	index     int
	extent    Extent
}

// collectExtents walks a node and its Next continuations, returning
// every non-empty extent slot in on-disk order, along with the full
// chain of node blocks visited (head first).
func (fs *FileSystem) collectExtents(head BlockAddr) ([]extentSlot, []BlockAddr, error) {
	var slots []extentSlot
	var chain []BlockAddr

	block := head
	for block != 0 {
		chain = append(chain, block)
		node, err := readNodeRecord(fs.disk, block)
		if err != nil {
			return nil, nil, err
		}
		for i, e := range node.Extents {
			if e.Length == 0 {
				continue
			}
			slots = append(slots, extentSlot{nodeBlock: block, index: i, extent: e})
		}
		block = node.Next
	}

	return slots, chain, nil
}

// totalLen sums Length across the slots a node's chain holds.
func totalLen(slots []extentSlot) uint64 {
	var n uint64
	for _, s := range slots {
		n += s.extent.Length
	}
	return n
}

// findEmptySlot returns the first unused extent slot anywhere in the
// node's chain (head first), if any.
func (fs *FileSystem) findEmptySlot(chain []BlockAddr) (BlockAddr, int, *Node, error) {
	for _, block := range chain {
		node, err := readNodeRecord(fs.disk, block)
		if err != nil {
			return 0, 0, nil, err
		}
		for i, e := range node.Extents {
			if e.Length == 0 {
				return block, i, node, nil
			}
		}
	}
	return 0, 0, nil, nil
}

// appendContinuation allocates a fresh node-formatted block, links it
// onto the end of chain via Next, and returns it so the caller can
// place an extent in its first slot.
func (fs *FileSystem) appendContinuation(chain []BlockAddr) (BlockAddr, *Node, error) {
	ext, err := fs.allocate(1)
	if err != nil {
		return 0, nil, err
	}
	newBlock := ext.Start
	newNode := &Node{}
	if err := writeNodeRecord(fs.disk, newBlock, newNode); err != nil {
		return 0, nil, err
	}

	tail := chain[len(chain)-1]
	tailNode, err := readNodeRecord(fs.disk, tail)
	if err != nil {
		return 0, nil, err
	}
	tailNode.Next = newBlock
	if err := writeNodeRecord(fs.disk, tail, tailNode); err != nil {
		return 0, nil, err
	}

	return newBlock, newNode, nil
}
