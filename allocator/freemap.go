// Package allocator implements the base-64 hierarchical bitmap
// allocator (component C1): a tree of 64-bit words where layer 0 is
// the leaf bitmap (one bit per block, 1 = occupied) and each layer
// k+1 tracks, one bit per word of layer k, whether that word is
// entirely full. Search descends from the top layer using the
// trailing-ones count of each visited word; fill/release maintain the
// fullness invariant bottom-up.
package allocator

import (
	"math/bits"

	"github.com/bits-and-blooms/bitset"
)

// FreeMap is a base-64 bitmap tree over a fixed number of blocks.
type FreeMap struct {
	store          *pageStore
	blockCount     uint64
	layerNum       int
	layerWordCount []uint64
	layerOffset    []uint64
	dirty          *bitset.BitSet // dirty layer-0 word indices, since last ClearDirty
}

// ceilDiv64 returns ceil(n/64).
func ceilDiv64(n uint64) uint64 {
	return (n + 63) >> 6
}

// layerCount mirrors the source's log64_ceil: the number of layers
// needed so repeatedly taking ceil(n/64) reaches 1, minimum 1.
func layerCount(blockCount uint64) int {
	layers := 0
	size := blockCount
	for size > 1 {
		size = ceilDiv64(size)
		layers++
	}
	if layers == 0 {
		layers = 1
	}
	return layers
}

// New initializes a FreeMap for blockCount blocks. All blocks start
// free (0); bits addressing indices >= blockCount, in every layer,
// are initialized to 1 so they never appear free.
func New(blockCount uint64) *FreeMap {
	layers := layerCount(blockCount)
	f := &FreeMap{
		store:          newPageStore(),
		blockCount:     blockCount,
		layerNum:       layers,
		layerWordCount: make([]uint64, layers),
		layerOffset:    make([]uint64, layers),
		dirty:          bitset.New(0),
	}

	size := blockCount
	var offset uint64
	for i := 0; i < layers; i++ {
		layerSize := ceilDiv64(size)
		if layerSize == 0 {
			layerSize = 1
		}
		mode := size & 0x3F
		f.layerOffset[i] = offset
		f.layerWordCount[i] = layerSize
		for j := uint64(0); j < layerSize; j++ {
			if j == layerSize-1 && mode != 0 {
				f.store.append(^uint64(0) << mode)
			} else {
				f.store.append(0)
			}
		}
		offset += layerSize
		size = layerSize
	}
	return f
}

// BlockCount returns the logical number of blocks this FreeMap tracks.
func (f *FreeMap) BlockCount() uint64 { return f.blockCount }

func (f *FreeMap) getWord(layer int, index uint64) uint64 {
	return f.store.get(f.layerOffset[layer] + index)
}

func (f *FreeMap) setWord(layer int, index uint64, v uint64) {
	f.store.set(f.layerOffset[layer]+index, v)
	if layer == 0 {
		f.dirty.Set(uint(index))
	}
}

// Dirty returns the set of layer-0 word indices modified since the
// last ClearDirty call, so a container can flush only touched words
// of the persisted free-map section instead of the whole bitmap.
func (f *FreeMap) Dirty() *bitset.BitSet { return f.dirty }

// LeafWord returns the raw layer-0 (leaf) word at the given word
// index, for callers persisting the free-map section directly.
func (f *FreeMap) LeafWord(wordIndex uint64) uint64 { return f.getWord(0, wordIndex) }

// ClearDirty resets the dirty-word tracking set, typically called
// right after the caller has persisted the dirty words.
func (f *FreeMap) ClearDirty() { f.dirty.ClearAll() }

// SearchFreeBlock returns the lowest-indexed free block, or false if
// every block is occupied, by descending from the top layer using the
// trailing-ones count of each visited word.
func (f *FreeMap) SearchFreeBlock() (uint64, bool) {
	var blockIndex uint64
	for i := f.layerNum - 1; i >= 0; i-- {
		w := f.getWord(i, blockIndex)
		c := uint64(bits.TrailingZeros64(^w))
		if c == 64 {
			return 0, false
		}
		blockIndex = (blockIndex << 6) | c
	}
	return blockIndex, true
}

// SearchFreeBlocks returns the lowest index at which n contiguous free
// blocks exist, or false if none exist. It performs a linear scan of
// layer 0, skipping any upper-layer subtree known to be entirely full.
func (f *FreeMap) SearchFreeBlocks(n uint64) (uint64, bool) {
	if n == 0 || n > f.blockCount {
		return 0, false
	}
	limit := f.blockCount - n
	var current uint64
	var count uint64

	for {
		// Skip fully-occupied upper-layer subtrees aligned at this cursor.
		for {
			// current-count is where the run being counted starts.
			if current-count > limit {
				return 0, false
			}
			skipped := false
			for layer := f.layerNum - 1; layer >= 1; layer-- {
				boundary := uint64(1) << uint(6*layer)
				if current%boundary != 0 {
					continue
				}
				upperIndex := current >> uint(6*layer)
				w := f.getWord(layer, upperIndex>>6)
				if (w>>(upperIndex&0x3F))&1 != 0 {
					current += boundary
					count = 0
					skipped = true
					break
				}
			}
			if !skipped {
				break
			}
		}

		if current-count > limit {
			return 0, false
		}
		w := f.getWord(0, current>>6)
		occupied := (w>>(current&0x3F))&1 != 0
		if occupied {
			count = 0
			current++
			continue
		}
		count++
		if count == n {
			return current - (n - 1), true
		}
		current++
	}
}

// Fill marks a single block occupied, propagating subtree-full bits
// upward while the newly-updated word becomes entirely 1.
func (f *FreeMap) Fill(blockIndex uint64) {
	index := blockIndex >> 6
	mode := blockIndex & 0x3F
	for i := 0; i < f.layerNum; i++ {
		w := f.getWord(i, index) | (uint64(1) << mode)
		f.setWord(i, index, w)
		if w != ^uint64(0) {
			break
		}
		mode = index & 0x3F
		index >>= 6
	}
}

// FillRange fills n consecutive blocks starting at blockIndex.
func (f *FreeMap) FillRange(blockIndex, n uint64) {
	for i := uint64(0); i < n; i++ {
		f.Fill(blockIndex + i)
	}
}

// Release marks a single block free, the inverse of Fill: it clears
// the leaf bit and, only if that leaf word had previously been
// entirely full, clears the corresponding upper-layer bits level by
// level until a level's word is found to be not entirely full.
func (f *FreeMap) Release(blockIndex uint64) {
	index := blockIndex >> 6
	mode := blockIndex & 0x3F
	for i := 0; i < f.layerNum; i++ {
		w := f.getWord(i, index)
		wasFull := w == ^uint64(0)
		w &^= uint64(1) << mode
		f.setWord(i, index, w)
		if !wasFull {
			break
		}
		mode = index & 0x3F
		index >>= 6
	}
}

// ReleaseRange releases n consecutive blocks starting at blockIndex.
func (f *FreeMap) ReleaseRange(blockIndex, n uint64) {
	for i := uint64(0); i < n; i++ {
		f.Release(blockIndex + i)
	}
}

// Grow returns a new FreeMap sized for newBlockCount, carrying over
// every block occupied in f (blockIndex < f.BlockCount()). Newly
// added blocks start free, the mirror image of New's tail-bit fill:
// growth must flip the bits addressing the old tail range from 1 back
// to 0 at every layer, which falls naturally out of rebuilding the
// tree fresh and replaying only the blocks that were actually
// occupied.
func (f *FreeMap) Grow(newBlockCount uint64) (*FreeMap, error) {
	if newBlockCount < f.blockCount {
		return nil, errShrink
	}
	nf := New(newBlockCount)
	wordCount := f.layerWordCount[0]
	for w := uint64(0); w < wordCount; w++ {
		word := f.getWord(0, w)
		for word != 0 {
			bit := uint64(bits.TrailingZeros64(word))
			blockIdx := w*64 + bit
			if blockIdx < f.blockCount {
				nf.Fill(blockIdx)
			}
			word &= word - 1
		}
	}
	return nf, nil
}
