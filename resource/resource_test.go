package resource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/refractalfs/redoxfs/disk"
	"github.com/refractalfs/redoxfs/redoxfs"
	"github.com/refractalfs/redoxfs/resource"
)

const testImageSize = 1024 * 1024

func newEngine(t *testing.T) *redoxfs.FileSystem {
	t.Helper()
	fs, err := redoxfs.Format(disk.NewMem(testImageSize), testImageSize, 0)
	require.NoError(t, err)
	return fs
}

func TestFileResourceReadWriteRespectsAccessMode(t *testing.T) {
	fs := newEngine(t)
	block, _, err := fs.CreateNode(redoxfs.ModeFile, "f", fs.Root(), 1, 1, 0)
	require.NoError(t, err)

	ro := resource.NewFileResource("/f", block, unix.O_RDONLY, 0, 1)
	_, errno := ro.Write([]byte("x"), fs)
	assert.Equal(t, redoxfs.ErrBadFile, errno)

	wo := resource.NewFileResource("/f", block, unix.O_WRONLY, 0, 1)
	n, errno := wo.Write([]byte("hello"), fs)
	assert.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, 5, n)

	_, errno = wo.Read(make([]byte, 5), fs)
	assert.Equal(t, redoxfs.ErrBadFile, errno)

	rw := resource.NewFileResource("/f", block, unix.O_RDWR, 0, 1)
	buf := make([]byte, 5)
	n, errno = rw.Read(buf, fs)
	assert.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestFileResourceSeekVariants(t *testing.T) {
	fs := newEngine(t)
	block, _, err := fs.CreateNode(redoxfs.ModeFile, "f", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	f := resource.NewFileResource("/f", block, unix.O_RDWR, 0, 0)
	_, errno := f.Write([]byte("0123456789"), fs)
	require.Equal(t, redoxfs.OK, errno)

	pos, errno := f.Seek(3, unix.SEEK_SET, fs)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, int64(3), pos)

	pos, errno = f.Seek(2, unix.SEEK_CUR, fs)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, int64(5), pos)

	pos, errno = f.Seek(0, unix.SEEK_END, fs)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, int64(10), pos)

	pos, errno = f.Seek(-100, unix.SEEK_SET, fs)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, int64(0), pos)
}

func TestFileResourceFcntlGetSetFl(t *testing.T) {
	f := resource.NewFileResource("/f", 1, unix.O_RDWR, 0, 0)

	flags, errno := f.Fcntl(unix.F_GETFL, 0)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, unix.O_RDWR, flags)

	_, errno = f.Fcntl(unix.F_SETFL, unix.O_RDWR|unix.O_APPEND)
	require.Equal(t, redoxfs.OK, errno)

	flags, errno = f.Fcntl(unix.F_GETFL, 0)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, unix.O_RDWR|unix.O_APPEND, flags)
}

func TestDirResourceReadWithoutListingIsEISDIR(t *testing.T) {
	d := resource.NewDirResource("/", 1, nil)
	_, errno := d.Read(make([]byte, 8), nil)
	assert.Equal(t, redoxfs.ErrIsDir, errno)
}

func TestDirResourceReadListing(t *testing.T) {
	d := resource.NewDirResource("/", 1, []byte("a\nb\nc\n"))

	buf := make([]byte, 3)
	n, errno := d.Read(buf, nil)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, "a\nb", string(buf[:n]))

	n, errno = d.Read(buf, nil)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, "\nc\n", string(buf[:n]))

	n, errno = d.Read(buf, nil)
	require.Equal(t, redoxfs.OK, errno)
	assert.Equal(t, 0, n)
}

func TestFileResourceTruncate(t *testing.T) {
	fs := newEngine(t)
	block, _, err := fs.CreateNode(redoxfs.ModeFile, "f", fs.Root(), 0, 0, 0)
	require.NoError(t, err)

	f := resource.NewFileResource("/f", block, unix.O_RDWR, 0, 0)
	errno := f.Truncate(100, fs)
	require.Equal(t, redoxfs.OK, errno)

	size, err := fs.NodeLen(block)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), size)

	ro := resource.NewFileResource("/f", block, unix.O_RDONLY, 0, 0)
	errno = ro.Truncate(0, fs)
	assert.Equal(t, redoxfs.ErrBadFile, errno)
}
