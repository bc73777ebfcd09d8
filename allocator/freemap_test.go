package allocator

import (
	"testing"

	"github.com/go-test/deep"
)

func TestNewTailBitsOccupied(t *testing.T) {
	cases := []uint64{1, 63, 64, 65, 4095, 4096, 4097}
	for _, bc := range cases {
		f := New(bc)
		// every tail bit of layer 0 (block indices >= bc inside the
		// last leaf word) must read as occupied.
		for b := bc; b < f.layerWordCount[0]*64; b++ {
			w := f.getWord(0, b>>6)
			if (w>>(b&0x3F))&1 == 0 {
				t.Fatalf("block count %d: tail block %d should be occupied", bc, b)
			}
		}
	}
}

func TestSearchFreeBlockEmptyMap(t *testing.T) {
	f := New(130)
	b, ok := f.SearchFreeBlock()
	if !ok || b != 0 {
		t.Fatalf("expected free block 0, got %d ok=%v", b, ok)
	}
}

func TestFillAdvancesSearch(t *testing.T) {
	f := New(130)
	f.Fill(0)
	b, ok := f.SearchFreeBlock()
	if !ok || b != 1 {
		t.Fatalf("expected free block 1 after filling 0, got %d ok=%v", b, ok)
	}

	f.FillRange(1, 63)
	b, ok = f.SearchFreeBlock()
	if !ok || b != 64 {
		t.Fatalf("expected free block 64 after filling 0..63, got %d ok=%v", b, ok)
	}

	f.FillRange(64, 66)
	_, ok = f.SearchFreeBlock()
	if ok {
		t.Fatalf("expected no free block once all 130 are filled")
	}
}

func TestFillReleaseRoundTrips(t *testing.T) {
	f := New(4097)
	before := snapshotWords(f)

	f.Fill(4096)
	f.Release(4096)

	after := snapshotWords(f)
	if diff := deep.Equal(before, after); diff != nil {
		t.Fatalf("fill/release did not restore bit-for-bit state: %v", diff)
	}
}

func TestSearchFreeBlocksContiguous(t *testing.T) {
	f := New(200)
	f.FillRange(0, 10)
	idx, ok := f.SearchFreeBlocks(5)
	if !ok || idx != 10 {
		t.Fatalf("expected contiguous run at 10, got %d ok=%v", idx, ok)
	}

	f.FillRange(10, 190)
	_, ok = f.SearchFreeBlocks(1)
	if ok {
		t.Fatalf("expected no contiguous run once full")
	}
}

func TestSearchFreeBlocksSkipsFullSubtree(t *testing.T) {
	f := New(200)
	f.FillRange(0, 64)
	idx, ok := f.SearchFreeBlocks(3)
	if !ok || idx != 64 {
		t.Fatalf("expected run starting at 64, got %d ok=%v", idx, ok)
	}
}

func TestGrowPreservesOccupiedBlocks(t *testing.T) {
	f := New(70)
	f.Fill(5)
	f.Fill(64)

	grown, err := f.Grow(200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w := grown.getWord(0, 0); (w>>5)&1 == 0 {
		t.Fatalf("expected block 5 to remain occupied after growth")
	}
	if w := grown.getWord(0, 1); (w>>0)&1 == 0 {
		t.Fatalf("expected block 64 to remain occupied after growth")
	}
	idx, ok := grown.SearchFreeBlock()
	if !ok || idx != 0 {
		t.Fatalf("expected block 0 free after growth, got %d ok=%v", idx, ok)
	}
	if _, err := grown.Grow(10); err == nil {
		t.Fatalf("expected shrink to be rejected")
	}
}

func snapshotWords(f *FreeMap) []uint64 {
	var out []uint64
	for layer := 0; layer < f.layerNum; layer++ {
		for i := uint64(0); i < f.layerWordCount[layer]; i++ {
			out = append(out, f.getWord(layer, i))
		}
	}
	return out
}
