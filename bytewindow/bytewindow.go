// Package bytewindow implements ByteWindow (component C4): a
// byte-addressed read/write façade over a BlockCache, splitting any
// byte-range operation into its head, middle, and tail block pieces.
package bytewindow

import (
	"github.com/vdstore/vd/blockcache"
	"github.com/vdstore/vd/slab"
)

// Window exposes byte-granular read/write over a BlockCache.
type Window struct {
	cache *blockcache.Cache
}

// New wraps cache in a byte-addressed façade.
func New(cache *blockcache.Cache) *Window {
	return &Window{cache: cache}
}

// Read fills buf starting at byte position pos, iterating over
// whichever blocks the range spans.
func (w *Window) Read(buf []byte, pos uint64) error {
	blockSize := w.cache.BlockSize()
	remaining := len(buf)
	bufOffset := 0
	current := pos

	for remaining > 0 {
		blockPos := current / blockSize
		blockOffset := current % blockSize

		s, err := w.cache.ReadBlockCached(blockPos)
		if err != nil {
			return err
		}
		data := s.AsSlice()
		toCopy := remaining
		if avail := len(data) - int(blockOffset); avail < toCopy {
			toCopy = avail
		}

		copy(buf[bufOffset:bufOffset+toCopy], data[blockOffset:int(blockOffset)+toCopy])

		bufOffset += toCopy
		current += uint64(toCopy)
		remaining -= toCopy
	}
	return nil
}

// Write performs a three-phase write of buf starting at byte position
// pos: a read-modify-write of the head partial block, a
// construct-and-write of whole middle blocks, and a read-modify-write
// of the tail partial block. If the entire write lies within one
// block, only the head phase runs.
func (w *Window) Write(buf []byte, pos uint64) error {
	blockSize := w.cache.BlockSize()
	length := len(buf)
	firstBlock := pos / blockSize
	firstOffset := pos % blockSize
	seek := 0

	head, err := w.cache.ReadBlock(firstBlock)
	if err != nil {
		return err
	}
	toCopy := length
	if avail := int(blockSize) - int(firstOffset); avail < toCopy {
		toCopy = avail
	}
	copy(head.AsMutSlice()[firstOffset:int(firstOffset)+toCopy], buf[:toCopy])
	if err := w.cache.WriteBlock(firstBlock, head); err != nil {
		return err
	}
	seek += toCopy

	if seek == length {
		return nil
	}

	blockPos := (pos + uint64(seek)) / blockSize
	for int(blockSize) <= length-seek {
		block := slab.WithSizeAligned(int(blockSize), int(blockSize))
		copy(block.AsMutSlice(), buf[seek:seek+int(blockSize)])
		if err := w.cache.WriteBlock(blockPos, block); err != nil {
			return err
		}
		seek += int(blockSize)
		blockPos++
	}

	if seek == length {
		return nil
	}

	tail, err := w.cache.ReadBlock(blockPos)
	if err != nil {
		return err
	}
	copy(tail.AsMutSlice()[:length-seek], buf[seek:])
	return w.cache.WriteBlock(blockPos, tail)
}
