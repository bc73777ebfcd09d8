// Package header implements Header (component C5): the fixed 64-byte
// container header record, loaded via and stored via a ByteWindow.
package header

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/vdstore/vd/bytewindow"
	"github.com/vdstore/vd/vderr"
)

// Size is the fixed on-disk size of a Header in bytes.
const Size = 64

// Version is the only version this package's Load accepts.
const Version uint32 = 1

// Magic is this format's 4-byte magic. The exact bytes are opaque per
// spec section 6; these are the ones this implementation chose once.
var Magic = [4]byte{'V', 'D', 'C', '1'}

// Header is the container's fixed 64-byte record. All offsets are in
// bytes from the start of the container file unless noted otherwise.
type Header struct {
	Magic           [4]byte
	Version         uint32
	Compression     uint16 // reserved, must be 0
	Crypt           uint16 // reserved, must be 0
	SnapshotCount   uint32
	TotalSize       uint64
	MetaOffset      uint64
	SnapshotOffset  uint64
	IndexOffset     uint64 // reserved
	FreeMapOffset   uint64
	BlockSize       uint32
	EntryCount      uint32
}

// New builds a fresh v1 Header with the given block size and total
// size; every offset defaults to zero, left for the caller to fill in
// once the corresponding sections are laid out.
func New(blockSize uint32, totalSize uint64) *Header {
	return &Header{
		Magic:     Magic,
		Version:   Version,
		BlockSize: blockSize,
		TotalSize: totalSize,
	}
}

// Load reads the first 64 bytes of cache's byte-addressed window,
// validates the magic and version, and parses the fields in the order
// of spec section 4.5's field table.
func Load(w *bytewindow.Window) (*Header, error) {
	buf := make([]byte, Size)
	if err := w.Read(buf, 0); err != nil {
		return nil, vderr.Wrap(vderr.InvalidFormat, "header: short read", err)
	}

	var magic [4]byte
	copy(magic[:], buf[0:4])
	if magic != Magic {
		logrus.WithField("magic", magic).Warn("header: magic mismatch")
		return nil, vderr.New(vderr.InvalidFormat, "header: invalid magic")
	}

	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != Version {
		logrus.WithField("version", version).Warn("header: unsupported version")
		return nil, vderr.New(vderr.UnsupportedVersion, "header: unsupported version")
	}

	h := &Header{
		Magic:          magic,
		Version:        version,
		Compression:    binary.LittleEndian.Uint16(buf[8:10]),
		Crypt:          binary.LittleEndian.Uint16(buf[10:12]),
		SnapshotCount:  binary.LittleEndian.Uint32(buf[12:16]),
		TotalSize:      binary.LittleEndian.Uint64(buf[16:24]),
		MetaOffset:     binary.LittleEndian.Uint64(buf[24:32]),
		SnapshotOffset: binary.LittleEndian.Uint64(buf[32:40]),
		IndexOffset:    binary.LittleEndian.Uint64(buf[40:48]),
		FreeMapOffset:  binary.LittleEndian.Uint64(buf[48:56]),
		BlockSize:      binary.LittleEndian.Uint32(buf[56:60]),
		EntryCount:     binary.LittleEndian.Uint32(buf[60:64]),
	}

	if h.Compression != 0 || h.Crypt != 0 {
		return nil, vderr.New(vderr.UnsupportedVersion, "header: non-zero compression/crypt code")
	}

	return h, nil
}

// Store writes h's 64 bytes back through w. Reserved fields are
// always written as zero by this v1 writer other than SnapshotCount,
// which this implementation specifies (see SPEC_FULL.md) rather than
// leaving fully reserved.
func Store(w *bytewindow.Window, h *Header) error {
	buf := make([]byte, Size)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint16(buf[8:10], 0)
	binary.LittleEndian.PutUint16(buf[10:12], 0)
	binary.LittleEndian.PutUint32(buf[12:16], h.SnapshotCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.TotalSize)
	binary.LittleEndian.PutUint64(buf[24:32], h.MetaOffset)
	binary.LittleEndian.PutUint64(buf[32:40], h.SnapshotOffset)
	binary.LittleEndian.PutUint64(buf[40:48], 0) // IndexOffset reserved
	binary.LittleEndian.PutUint64(buf[48:56], h.FreeMapOffset)
	binary.LittleEndian.PutUint32(buf[56:60], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[60:64], h.EntryCount)

	if err := w.Write(buf, 0); err != nil {
		return vderr.Wrap(vderr.Other, "header: store failed", err)
	}
	return nil
}
