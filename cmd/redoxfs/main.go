// Command redoxfs mounts a redoxfs disk image at a directory using
// FUSE. It mirrors the original host's two-positional-argument
// invocation (image path, then mountpoint), formatting a fresh image
// when --create is given.
package main

import (
	"os"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/refractalfs/redoxfs/disk"
	"github.com/refractalfs/redoxfs/fuseadapter"
	"github.com/refractalfs/redoxfs/redoxfs"
)

var log = logrus.WithField("component", "cmd/redoxfs")

const defaultCreateSize = 256 * 1024 * 1024

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("redoxfs exited with error")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var create bool
	var createSize uint64

	cmd := &cobra.Command{
		Use:   "redoxfs <image-path> <mountpoint>",
		Short: "Mount a redoxfs disk image as a FUSE filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], create, createSize)
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "format image-path as a fresh filesystem before mounting")
	cmd.Flags().Uint64Var(&createSize, "size", defaultCreateSize, "size in bytes for --create")

	return cmd
}

func run(imagePath, mountpoint string, create bool, createSize uint64) error {
	mounted, err := mountinfo.Mounted(mountpoint)
	if err != nil {
		return errors.Wrap(err, "check mountpoint")
	}
	if mounted {
		return errors.Errorf("%s is already a mount point", mountpoint)
	}

	engine, closeDisk, err := openEngine(imagePath, create, createSize)
	if err != nil {
		return err
	}
	defer closeDisk()

	log.WithFields(logrus.Fields{
		"image":      imagePath,
		"mountpoint": mountpoint,
	}).Info("opened redoxfs filesystem")

	root := fuseadapter.Root(engine)
	// The engine is not safe for concurrent use, so the FUSE server
	// handles one request at a time.
	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{SingleThreaded: true},
	})
	if err != nil {
		return errors.Wrap(err, "mount fuse filesystem")
	}

	log.Info("redoxfs mounted, serving requests")
	server.Wait()
	return nil
}

func openEngine(imagePath string, create bool, createSize uint64) (*redoxfs.FileSystem, func(), error) {
	if create {
		d, err := disk.Create(imagePath, createSize)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create disk image")
		}
		engine, err := redoxfs.Format(d, createSize, nowUnix())
		if err != nil {
			d.Close()
			return nil, nil, errors.Wrap(err, "format filesystem")
		}
		return engine, func() { d.Close() }, nil
	}

	d, err := disk.Open(imagePath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open disk image")
	}
	engine, err := redoxfs.Open(d)
	if err != nil {
		d.Close()
		return nil, nil, errors.Wrap(err, "open filesystem")
	}
	return engine, func() { d.Close() }, nil
}
