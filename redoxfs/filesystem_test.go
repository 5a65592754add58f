package redoxfs_test

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refractalfs/redoxfs/disk"
	"github.com/refractalfs/redoxfs/redoxfs"
)

const testImageSize = 4 * 1024 * 1024

func formatted(t *testing.T) (*redoxfs.FileSystem, *disk.Mem) {
	t.Helper()
	d := disk.NewMem(testImageSize)
	fs, err := redoxfs.Format(d, testImageSize, 1000)
	require.NoError(t, err)
	return fs, d
}

func TestFormatThenOpenRoundTrips(t *testing.T) {
	fs, d := formatted(t)

	root, err := fs.Node(fs.Root())
	require.NoError(t, err)
	assert.True(t, root.IsDir())

	reopened, err := redoxfs.Open(d)
	require.NoError(t, err)
	assert.Equal(t, fs.Root(), reopened.Root())
	assert.Equal(t, fs.Size(), reopened.Size())
}

func TestCreateFindRemoveNode(t *testing.T) {
	fs, _ := formatted(t)

	block, node, err := fs.CreateNode(redoxfs.ModeFile, "hello.txt", fs.Root(), 1, 1, 100)
	require.NoError(t, err)
	assert.True(t, node.IsFile())

	found, foundNode, err := fs.FindNode("hello.txt", fs.Root())
	require.NoError(t, err)
	assert.Equal(t, block, found)
	if diff := pretty.Compare(node, foundNode); diff != "" {
		t.Errorf("node mismatch after FindNode (-want +got):\n%s", diff)
	}

	_, _, err = fs.CreateNode(redoxfs.ModeFile, "hello.txt", fs.Root(), 1, 1, 100)
	assert.Equal(t, redoxfs.ErrExists, err)

	require.NoError(t, fs.RemoveNode(redoxfs.ModeFile, "hello.txt", fs.Root()))
	_, _, err = fs.FindNode("hello.txt", fs.Root())
	assert.Equal(t, redoxfs.ErrNotFound, err)
}

func TestRemoveNodeModeMismatch(t *testing.T) {
	fs, _ := formatted(t)

	_, _, err := fs.CreateNode(redoxfs.ModeDir, "sub", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	err = fs.RemoveNode(redoxfs.ModeFile, "sub", fs.Root())
	assert.Equal(t, redoxfs.ErrIsDir, err)

	_, _, err = fs.CreateNode(redoxfs.ModeFile, "f", fs.Root(), 0, 0, 0)
	require.NoError(t, err)
	err = fs.RemoveNode(redoxfs.ModeDir, "f", fs.Root())
	assert.Equal(t, redoxfs.ErrNotDir, err)
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	fs, _ := formatted(t)

	dirBlock, _, err := fs.CreateNode(redoxfs.ModeDir, "sub", fs.Root(), 0, 0, 0)
	require.NoError(t, err)
	_, _, err = fs.CreateNode(redoxfs.ModeFile, "child", dirBlock, 0, 0, 0)
	require.NoError(t, err)

	err = fs.RemoveNode(redoxfs.ModeDir, "sub", fs.Root())
	assert.Equal(t, redoxfs.ErrDirNotEmpty, err)
}

func TestWriteReadNodeRoundTrip(t *testing.T) {
	fs, _ := formatted(t)

	block, _, err := fs.CreateNode(redoxfs.ModeFile, "data.bin", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	payload := make([]byte, 3*redoxfs.BlockSize+17)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := fs.WriteNode(block, 0, payload, 5000, 7)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	size, err := fs.NodeLen(block)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), size)

	got := make([]byte, len(payload))
	n, err = fs.ReadNode(block, 0, got)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)

	node, err := fs.Node(block)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), node.Mtime)
	assert.Equal(t, uint32(7), node.MtimeNs)
}

func TestReadPastEndOfFileIsShort(t *testing.T) {
	fs, _ := formatted(t)

	block, _, err := fs.CreateNode(redoxfs.ModeFile, "short.bin", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	_, err = fs.WriteNode(block, 0, []byte("hello"), 0, 0)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := fs.ReadNode(block, 2, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "llo", string(buf[:n]))

	n, err = fs.ReadNode(block, 1000, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNodeSetLenGrowAndShrink(t *testing.T) {
	fs, _ := formatted(t)

	block, _, err := fs.CreateNode(redoxfs.ModeFile, "grow.bin", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.NodeSetLen(block, 10*redoxfs.BlockSize))
	size, err := fs.NodeLen(block)
	require.NoError(t, err)
	assert.Equal(t, uint64(10*redoxfs.BlockSize), size)

	require.NoError(t, fs.NodeSetLen(block, redoxfs.BlockSize/2))
	size, err = fs.NodeLen(block)
	require.NoError(t, err)
	assert.Equal(t, uint64(redoxfs.BlockSize/2), size)

	require.NoError(t, fs.NodeSetLen(block, 0))
	size, err = fs.NodeLen(block)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}

func TestGrowBeyondDirectExtentsUsesContinuation(t *testing.T) {
	fs, _ := formatted(t)

	block, _, err := fs.CreateNode(redoxfs.ModeFile, "big.bin", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	// Forces at least one continuation node: each SetLen call to a
	// strictly larger size that does not reuse slack allocates a new
	// extent, and the node's inline array only holds a handful.
	size := uint64(0)
	for i := 0; i < 20; i++ {
		size += redoxfs.BlockSize + 1
		require.NoError(t, fs.NodeSetLen(block, size))
	}

	got, err := fs.NodeLen(block)
	require.NoError(t, err)
	assert.Equal(t, size, got)

	payload := []byte("continuation-survives-round-trip")
	_, err = fs.WriteNode(block, size-uint64(len(payload)), payload, 0, 0)
	require.NoError(t, err)

	buf := make([]byte, len(payload))
	_, err = fs.ReadNode(block, size-uint64(len(payload)), buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestChildNodesListsInsertionOrder(t *testing.T) {
	fs, _ := formatted(t)

	names := []string{"a", "b", "c"}
	for _, name := range names {
		_, _, err := fs.CreateNode(redoxfs.ModeFile, name, fs.Root(), 0, 0, 0)
		require.NoError(t, err)
	}

	var children []redoxfs.ChildEntry
	require.NoError(t, fs.ChildNodes(&children, fs.Root()))
	require.Len(t, children, len(names))
	for i, name := range names {
		assert.Equal(t, name, children[i].Node.Name)
	}
}

func TestAllocateExhaustionReturnsNoSpace(t *testing.T) {
	fs, _ := formatted(t)

	block, _, err := fs.CreateNode(redoxfs.ModeFile, "hog.bin", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	free, err := fs.FreeBlocks()
	require.NoError(t, err)

	err = fs.NodeSetLen(block, (free+1)*redoxfs.BlockSize)
	assert.Equal(t, redoxfs.ErrNoSpace, err)
}

func TestAllocDeallocCycleRestoresFreeBlocks(t *testing.T) {
	fs, _ := formatted(t)

	freeBefore, err := fs.FreeBlocks()
	require.NoError(t, err)

	block, _, err := fs.CreateNode(redoxfs.ModeFile, "churn.bin", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, fs.NodeSetLen(block, 5*redoxfs.BlockSize))
	require.NoError(t, fs.NodeSetLen(block, 0))
	require.NoError(t, fs.RemoveNode(redoxfs.ModeFile, "churn.bin", fs.Root()))

	freeAfter, err := fs.FreeBlocks()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, freeAfter)
}
