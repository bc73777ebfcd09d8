package container

import (
	"io"
	"testing"

	"github.com/go-test/deep"

	"github.com/vdstore/vd/fsrecord"
)

// memFile is an in-memory File used only by tests; it behaves like a
// sparse, growable file and additionally supports Truncate so Resize
// can be exercised without a real direct-I/O backing file.
type memFile struct {
	data []byte
}

func newMemFile(size int) *memFile { return &memFile{data: make([]byte, size)} }

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
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

func (m *memFile) Sync() error { return nil }
func (m *memFile) Close() error { return nil }

func (m *memFile) Truncate(size int64) error {
	if int(size) <= len(m.data) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func testOptions(t *testing.T) *options {
	t.Helper()
	return resolveOptions([]Option{WithDeviceID(7)})
}

func newTestContainer(t *testing.T, totalSize, blockSize uint64) *Container {
	t.Helper()
	f := newMemFile(int(totalSize))
	c, err := createFromFile(t.Name(), f, totalSize, blockSize, testOptions(t))
	if err != nil {
		t.Fatalf("createFromFile: %v", err)
	}
	return c
}

func TestCreateFromFileInitializesHeaderAndRoot(t *testing.T) {
	const blockSize = 512
	const totalSize = blockSize * 32

	c := newTestContainer(t, totalSize, blockSize)

	h := c.Header()
	if h.BlockSize != blockSize {
		t.Fatalf("BlockSize = %d, want %d", h.BlockSize, blockSize)
	}
	if h.TotalSize != totalSize {
		t.Fatalf("TotalSize = %d, want %d", h.TotalSize, totalSize)
	}
	if h.EntryCount != 1 {
		t.Fatalf("EntryCount = %d, want 1", h.EntryCount)
	}

	root, err := c.RootRecord()
	if err != nil {
		t.Fatalf("RootRecord: %v", err)
	}
	if root.Type != fsrecord.TypeDirectory {
		t.Fatalf("root.Type = %v, want TypeDirectory", root.Type)
	}
	if root.Name != "/" {
		t.Fatalf("root.Name = %q, want \"/\"", root.Name)
	}
	if root.SelfRUID != root.ParentRUID {
		t.Fatalf("root should be its own parent")
	}
}

func TestOpenFromFileRoundTripsCreatedContainer(t *testing.T) {
	const blockSize = 512
	const totalSize = blockSize * 32

	f := newMemFile(int(totalSize))
	orig, err := createFromFile(t.Name(), f, totalSize, blockSize, testOptions(t))
	if err != nil {
		t.Fatalf("createFromFile: %v", err)
	}
	origRoot, err := orig.RootRecord()
	if err != nil {
		t.Fatalf("RootRecord: %v", err)
	}

	reopened, err := openFromFile(t.Name(), f, blockSize, testOptions(t))
	if err != nil {
		t.Fatalf("openFromFile: %v", err)
	}

	if diff := deep.Equal(orig.Header(), reopened.Header()); diff != nil {
		t.Fatalf("header mismatch after reopen: %v", diff)
	}

	gotRoot, err := reopened.RootRecord()
	if err != nil {
		t.Fatalf("RootRecord after reopen: %v", err)
	}
	if diff := deep.Equal(origRoot, gotRoot); diff != nil {
		t.Fatalf("root record mismatch after reopen: %v", diff)
	}

	// The free-map section was persisted by Sync during create, so a
	// freshly materialized FreeMap must agree on which block is first
	// free.
	want, got := orig.FreeMap(), reopened.FreeMap()
	if want.BlockCount() != got.BlockCount() {
		t.Fatalf("BlockCount mismatch: %d vs %d", want.BlockCount(), got.BlockCount())
	}
	wantIdx, wantOK := want.SearchFreeBlock()
	gotIdx, gotOK := got.SearchFreeBlock()
	if wantOK != gotOK || wantIdx != gotIdx {
		t.Fatalf("SearchFreeBlock mismatch after reopen: (%d,%v) vs (%d,%v)", wantIdx, wantOK, gotIdx, gotOK)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	const blockSize = 512
	const totalSize = blockSize * 32

	c := newTestContainer(t, totalSize, blockSize)

	d, err := c.CreateSnapshot(1_700_000_000)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if err := c.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := c.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(Snapshots()) = %d, want 1", len(got))
	}
	if got[0].ID != d.ID || got[0].CreatedAt != d.CreatedAt {
		t.Fatalf("Snapshots()[0] = %+v, want %+v", got[0], d)
	}
	if c.Header().SnapshotCount != 1 {
		t.Fatalf("SnapshotCount = %d, want 1", c.Header().SnapshotCount)
	}
}

func TestResizeGrowsFreeMapAndMarksHeaderDirty(t *testing.T) {
	const blockSize = 512
	const totalSize = blockSize * 16

	c := newTestContainer(t, totalSize, blockSize)
	originalBlocks := c.FreeMap().BlockCount()

	// Fill every remaining block so the pre-resize map is entirely
	// occupied; this isolates the tail-bit flip Resize is responsible
	// for from blocks that were already free beforehand.
	for {
		idx, ok := c.FreeMap().SearchFreeBlock()
		if !ok {
			break
		}
		c.FreeMap().Fill(idx)
	}
	if _, ok := c.FreeMap().SearchFreeBlock(); ok {
		t.Fatal("expected FreeMap to be entirely full before resize")
	}

	if err := c.Resize(blockSize * 16); err != nil {
		t.Fatalf("Resize: %v", err)
	}

	if c.Header().TotalSize != totalSize*2 {
		t.Fatalf("TotalSize after resize = %d, want %d", c.Header().TotalSize, totalSize*2)
	}
	if c.FreeMap().BlockCount() != originalBlocks*2 {
		t.Fatalf("BlockCount after resize = %d, want %d", c.FreeMap().BlockCount(), originalBlocks*2)
	}

	// The grown tail must read back as free, not occupied: the lowest
	// free block must now be exactly the first newly added one.
	idx, ok := c.FreeMap().SearchFreeBlock()
	if !ok || idx != originalBlocks {
		t.Fatalf("expected SearchFreeBlock to return %d, got idx=%d ok=%v", originalBlocks, idx, ok)
	}

	if err := c.Sync(); err != nil {
		t.Fatalf("Sync after resize: %v", err)
	}
}

func TestResizeRejectsMisalignedDelta(t *testing.T) {
	const blockSize = 512
	const totalSize = blockSize * 16

	c := newTestContainer(t, totalSize, blockSize)
	if err := c.Resize(blockSize + 1); err == nil {
		t.Fatal("Resize with misaligned delta should fail")
	}
}
