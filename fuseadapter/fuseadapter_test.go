package fuseadapter_test

import (
	"context"
	"testing"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refractalfs/redoxfs/disk"
	"github.com/refractalfs/redoxfs/fuseadapter"
	"github.com/refractalfs/redoxfs/redoxfs"
)

const testImageSize = 4 * 1024 * 1024

// rootNode builds a Node wired through fs.NewNodeFS, the same
// construction Mount uses internally, so its embedded Inode has a
// live bridge and can safely call NewInode outside of an actual
// mount (mount.go: "rawFS := NewNodeFS(root, options)").
func rootNode(t *testing.T) *fuseadapter.Node {
	t.Helper()
	engine, err := redoxfs.Format(disk.NewMem(testImageSize), testImageSize, 0)
	require.NoError(t, err)
	root := fuseadapter.Root(engine).(*fuseadapter.Node)
	fs.NewNodeFS(root, &fs.Options{})
	return root
}

func TestStatfsReportsWholeBlocksNotDoubleDivided(t *testing.T) {
	root := rootNode(t)

	var out fuse.StatfsOut
	errno := root.Statfs(context.Background(), &out)
	require.Equal(t, redoxfs.OK, errno)

	assert.Equal(t, uint64(testImageSize/redoxfs.BlockSize), out.Blocks)
	assert.LessOrEqual(t, out.Bfree, out.Blocks, "free blocks must never exceed total blocks")
	assert.Equal(t, out.Bfree, out.Bavail)
	assert.Equal(t, uint32(redoxfs.BlockSize), out.Bsize)
}

func TestGetattrReportsRootDirectory(t *testing.T) {
	root := rootNode(t)

	var out fuse.AttrOut
	errno := root.Getattr(context.Background(), nil, &out)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, uint32(fuse.S_IFDIR|0o777), out.Attr.Mode)
}

func TestCreateThenLookupRoundTrips(t *testing.T) {
	root := rootNode(t)
	ctx := context.Background()

	var createOut fuse.EntryOut
	_, _, _, errno := root.Create(ctx, "hi.txt", 0, 0, &createOut)
	require.Equal(t, redoxfs.OK, errno)

	var lookupOut fuse.EntryOut
	_, errno = root.Lookup(ctx, "hi.txt", &lookupOut)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, createOut.Attr.Ino, lookupOut.Attr.Ino)
	assert.Equal(t, uint32(fuse.S_IFREG|0o777), lookupOut.Attr.Mode)
}
