package redoxfs

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Header is the on-disk superblock: signature, version, total size in
// bytes, the root directory node's block, and the head of the free
// list. It lives at HeaderBlock and is rewritten synchronously
// whenever Free or Size changes, before the triggering operation
// returns success (spec.md §4.1).
type Header struct {
	Signature [8]byte
	Version   uint64
	Size      uint64
	Root      BlockAddr
	Free      BlockAddr
}

func signature() (s [8]byte) {
	copy(s[:], signatureString)
	return s
}

// valid reports whether h carries the expected signature and version.
func (h *Header) valid() bool {
	return h.Signature == signature() && h.Version == version
}

func encodeHeader(h *Header) []byte {
	buf := make([]byte, BlockSize)
	copy(buf[0:8], h.Signature[:])
	binary.LittleEndian.PutUint64(buf[8:16], h.Version)
	binary.LittleEndian.PutUint64(buf[16:24], h.Size)
	binary.LittleEndian.PutUint64(buf[24:32], h.Root)
	binary.LittleEndian.PutUint64(buf[32:40], h.Free)
	return buf
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < 40 {
		return nil, errors.New("header block truncated")
	}
	h := &Header{}
	copy(h.Signature[:], buf[0:8])
	h.Version = binary.LittleEndian.Uint64(buf[8:16])
	h.Size = binary.LittleEndian.Uint64(buf[16:24])
	h.Root = binary.LittleEndian.Uint64(buf[24:32])
	h.Free = binary.LittleEndian.Uint64(buf[32:40])
	return h, nil
}

// readHeader reads and validates the superblock, returning ErrBadFormat
// on signature/version mismatch.
func readHeader(d Disk) (*Header, error) {
	buf := make([]byte, BlockSize)
	if err := d.ReadAt(HeaderBlock, buf); err != nil {
		return nil, errors.Wrap(err, "read header block")
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if !h.valid() {
		return nil, ErrBadFormat
	}
	return h, nil
}

// writeHeader persists the superblock synchronously.
func writeHeader(d Disk, h *Header) error {
	return errors.Wrap(d.WriteAt(HeaderBlock, encodeHeader(h)), "write header block")
}
