package header

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/vdstore/vd/blockcache"
	"github.com/vdstore/vd/bytewindow"
	"github.com/vdstore/vd/vderr"
)

type memFile struct{ data []byte }

func newMemFile(size int) *memFile { return &memFile{data: make([]byte, size)} }

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

func (m *memFile) Sync() error  { return nil }
func (m *memFile) Close() error { return nil }

func newWindow(t *testing.T) (*bytewindow.Window, *blockcache.Cache) {
	t.Helper()
	f := newMemFile(4096)
	c, err := blockcache.New(f, 4, 512)
	if err != nil {
		t.Fatalf("blockcache.New: %v", err)
	}
	return bytewindow.New(c), c
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	w, c := newWindow(t)
	h := New(512, 4096)
	h.MetaOffset = 64
	h.SnapshotOffset = 128
	h.FreeMapOffset = 256
	h.EntryCount = 3
	h.SnapshotCount = 2

	if err := Store(w, h); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := Load(w)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := deep.Equal(h, got); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	w, c := newWindow(t)
	buf := make([]byte, Size)
	copy(buf[0:4], []byte{'X', 'X', 'X', 'X'})
	if err := w.Write(buf, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := Load(w); !vderr.Is(err, vderr.InvalidFormat) {
		t.Fatalf("expected InvalidFormat, got %v", err)
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	for _, version := range []uint32{0, 2} {
		w, c := newWindow(t)
		h := New(512, 4096)
		h.Version = version
		if err := Store(w, h); err != nil {
			t.Fatalf("Store: %v", err)
		}
		if err := c.Sync(); err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if _, err := Load(w); !vderr.Is(err, vderr.UnsupportedVersion) {
			t.Fatalf("version %d: expected UnsupportedVersion, got %v", version, err)
		}
	}
}

func TestLoadAcceptsVersionOne(t *testing.T) {
	w, c := newWindow(t)
	h := New(512, 4096)
	if err := Store(w, h); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := Load(w); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
