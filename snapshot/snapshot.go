// Package snapshot implements the container's snapshot descriptor
// section: a flat array of fixed 24-byte records anchored at the
// header's snapshot_offset, counted by the header's snapshot_count.
//
// The base spec leaves this header-reserved range undefined; this
// format is this implementation's choice, recorded in SPEC_FULL.md.
package snapshot

import (
	"encoding/binary"

	uuid "github.com/satori/go.uuid"

	"github.com/vdstore/vd/bytewindow"
	"github.com/vdstore/vd/vderr"
)

// RecordSize is the fixed on-disk size of one Descriptor.
const RecordSize = 24

// Descriptor identifies one point-in-time snapshot of the container.
type Descriptor struct {
	ID        uuid.UUID
	CreatedAt int64 // POSIX seconds
}

// Encode writes d's 24-byte wire form into buf, which must be at
// least RecordSize bytes.
func (d Descriptor) Encode(buf []byte) {
	copy(buf[0:16], d.ID.Bytes())
	binary.LittleEndian.PutUint64(buf[16:24], uint64(d.CreatedAt))
}

// Decode parses a Descriptor from buf, which must be at least
// RecordSize bytes.
func Decode(buf []byte) (Descriptor, error) {
	id, err := uuid.FromBytes(buf[0:16])
	if err != nil {
		return Descriptor{}, vderr.Wrap(vderr.InvalidFormat, "snapshot: bad id", err)
	}
	return Descriptor{
		ID:        id,
		CreatedAt: int64(binary.LittleEndian.Uint64(buf[16:24])),
	}, nil
}

// Load reads count descriptors from w starting at offset.
func Load(w *bytewindow.Window, offset uint64, count uint32) ([]Descriptor, error) {
	out := make([]Descriptor, 0, count)
	buf := make([]byte, RecordSize)
	for i := uint32(0); i < count; i++ {
		if err := w.Read(buf, offset+uint64(i)*RecordSize); err != nil {
			return nil, vderr.Wrap(vderr.InvalidFormat, "snapshot: short read", err)
		}
		d, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Store writes descs to w starting at offset, returning the new count
// for the caller to persist into the container header.
func Store(w *bytewindow.Window, offset uint64, descs []Descriptor) (uint32, error) {
	buf := make([]byte, RecordSize)
	for i, d := range descs {
		d.Encode(buf)
		if err := w.Write(buf, offset+uint64(i)*RecordSize); err != nil {
			return 0, vderr.Wrap(vderr.Other, "snapshot: write failed", err)
		}
	}
	return uint32(len(descs)), nil
}

// New creates a Descriptor from the given id and creation timestamp.
// The timestamp comes from the caller so construction stays
// deterministic and testable.
func New(id uuid.UUID, createdAt int64) Descriptor {
	return Descriptor{ID: id, CreatedAt: createdAt}
}
