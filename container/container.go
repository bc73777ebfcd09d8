// Package container ties components C1-C9 together into the
// top-level value spec.md section 2's data-flow paragraph describes
// but never names: SectorProbe yields a block size, BlockCache is
// constructed over a direct-I/O file at that block size, Header is
// loaded through a ByteWindow over the cache, and FreeMap is
// materialized from the header's free-map section.
package container

import (
	"os"

	"github.com/google/renameio"
	"github.com/pkg/xattr"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/vdstore/vd/allocator"
	"github.com/vdstore/vd/blockcache"
	"github.com/vdstore/vd/bytewindow"
	"github.com/vdstore/vd/fsrecord"
	"github.com/vdstore/vd/header"
	"github.com/vdstore/vd/ruid"
	"github.com/vdstore/vd/sectorprobe"
	"github.com/vdstore/vd/snapshot"
	"github.com/vdstore/vd/vderr"
)

// rootRecordBlock is the fixed block index of the root FSRecord,
// immediately following the 64-byte header's own block.
const rootRecordBlock = 1

// defaultCacheCapacity is the resident-entry count used when the
// caller does not supply one via WithCacheCapacity.
const defaultCacheCapacity = 1024

// xattrMagicName is the best-effort introspection tag set on
// container creation, per SPEC_FULL.md's Domain Stack entry for
// github.com/pkg/xattr. It is never read back by this package; it
// exists purely for external tools like getfattr.
const xattrMagicName = "user.vd.magic"

// Container is an open, single-file virtual disk: the composition of
// a direct-I/O BlockCache, the byte-addressed window over it, the
// loaded Header, and the in-memory FreeMap materialized from the
// header's free-map section.
type Container struct {
	path      string
	file      blockcache.File
	cache     *blockcache.Cache
	window    *bytewindow.Window
	header    *header.Header
	freeMap   *allocator.FreeMap
	generator *ruid.Generator
	rootRUID  ruid.RUID
	log       logrus.FieldLogger

	headerDirty bool
}

// truncater is satisfied by *os.File and by test doubles that want to
// support Resize.
type truncater interface {
	Truncate(size int64) error
}

// Option configures Open/Create.
type Option func(*options)

type options struct {
	logger       logrus.FieldLogger
	cacheCap     int
	blockSize    uint64
	deviceID     uint16
	haveDeviceID bool
}

// WithLogger overrides the default standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithCacheCapacity overrides the BlockCache's resident entry count.
func WithCacheCapacity(n int) Option {
	return func(o *options) { o.cacheCap = n }
}

// WithBlockSize overrides the SectorProbe-derived block size, for
// backing stores (e.g. tmpfs in tests) where sector probing is not
// meaningful.
func WithBlockSize(n uint64) Option {
	return func(o *options) { o.blockSize = n }
}

// WithDeviceID pins the RuidGenerator's device id instead of deriving
// one from host identity.
func WithDeviceID(id uint16) Option {
	return func(o *options) { o.deviceID = id; o.haveDeviceID = true }
}

func resolveOptions(opts []Option) *options {
	o := &options{logger: logrus.StandardLogger(), cacheCap: defaultCacheCapacity}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func blockSizeFor(path string, o *options) (uint64, error) {
	if o.blockSize != 0 {
		return o.blockSize, nil
	}
	return sectorprobe.BytesPerSector(path)
}

func newGenerator(o *options) (*ruid.Generator, error) {
	if o.haveDeviceID {
		return ruid.NewWith(uint64(o.deviceID), o.deviceID)
	}
	return ruid.NewGeneratorFromOS()
}

// Open opens an existing container at path: it probes the backing
// device's sector size, opens the file with direct I/O, constructs a
// BlockCache over it, loads the Header through a ByteWindow, and
// materializes the FreeMap from the header's free-map section.
func Open(path string, opts ...Option) (*Container, error) {
	o := resolveOptions(opts)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, vderr.New(vderr.VDNotFound, "container: "+path+" does not exist")
		}
		return nil, vderr.Wrap(vderr.OSPermissionDenied, "container: stat failed", err)
	}

	blockSize, err := blockSizeFor(path, o)
	if err != nil {
		return nil, err
	}

	f, err := blockcache.OpenDirect(path, false)
	if err != nil {
		return nil, vderr.Wrap(vderr.OSPermissionDenied, "container: open failed", err)
	}

	c, err := openFromFile(path, f, blockSize, o)
	if err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// openFromFile builds a Container over an already-open File: it
// constructs the BlockCache, loads the Header, materializes the
// FreeMap, and seeds the RuidGenerator. Split out from Open so tests
// can exercise this logic over an in-memory File without touching a
// real direct-I/O file.
func openFromFile(path string, f blockcache.File, blockSize uint64, o *options) (*Container, error) {
	log := o.logger

	cache, err := blockcache.New(f, o.cacheCap, blockSize, blockcache.WithLogger(log))
	if err != nil {
		return nil, err
	}
	w := bytewindow.New(cache)

	h, err := header.Load(w)
	if err != nil {
		return nil, err
	}

	fm, err := loadFreeMap(w, h)
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(o)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{"path": path, "block_size": blockSize}).Info("container: opened")

	return &Container{
		path:      path,
		file:      f,
		cache:     cache,
		window:    w,
		header:    h,
		freeMap:   fm,
		generator: gen,
		log:       log,
	}, nil
}

// loadFreeMap rebuilds an in-memory FreeMap of the size implied by the
// header's total size and block size, then fills it from the
// persisted free-map section's leaf-layer words.
func loadFreeMap(w *bytewindow.Window, h *header.Header) (*allocator.FreeMap, error) {
	blockCount := h.TotalSize / uint64(h.BlockSize)
	fm := allocator.New(blockCount)

	wordCount := (blockCount + 63) / 64
	if wordCount == 0 {
		return fm, nil
	}
	buf := make([]byte, wordCount*8)
	if err := w.Read(buf, h.FreeMapOffset); err != nil {
		return nil, vderr.Wrap(vderr.InvalidFormat, "container: free-map read failed", err)
	}
	for i := uint64(0); i < wordCount; i++ {
		word := leUint64(buf[i*8 : i*8+8])
		for bit := 0; bit < 64; bit++ {
			blockIdx := i*64 + uint64(bit)
			if blockIdx >= blockCount {
				break
			}
			if word&(uint64(1)<<uint(bit)) != 0 {
				fm.Fill(blockIdx)
			}
		}
	}
	fm.ClearDirty()
	return fm, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Create initializes a fresh container file of totalSize bytes at
// path: a Header, an empty FreeMap sized for the container, and a
// root FSRecord. A zero-filled file of totalSize bytes is staged in a
// temp file and renamed into place atomically
// (github.com/google/renameio); the Header, FreeMap and root FSRecord
// are then written into the renamed file through the BlockCache and
// synced, so a crash between the rename and that sync leaves a
// zero-filled file at path.
func Create(path string, totalSize uint64, opts ...Option) (*Container, error) {
	o := resolveOptions(opts)
	log := o.logger

	blockSize, err := blockSizeFor(path, o)
	if err != nil {
		return nil, err
	}
	if totalSize%blockSize != 0 {
		return nil, vderr.New(vderr.Other, "container: total size must be a multiple of the block size")
	}

	pf, err := renameio.TempFile("", path)
	if err != nil {
		return nil, vderr.Wrap(vderr.Other, "container: temp file creation failed", err)
	}
	defer pf.Cleanup()

	if err := pf.Truncate(int64(totalSize)); err != nil {
		return nil, vderr.Wrap(vderr.Other, "container: truncate failed", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return nil, vderr.Wrap(vderr.Other, "container: atomic create failed", err)
	}

	log.WithField("path", path).Debug("container: staged empty file atomically")

	f, err := blockcache.OpenDirect(path, false)
	if err != nil {
		return nil, vderr.Wrap(vderr.OSPermissionDenied, "container: open after create failed", err)
	}

	c, err := createFromFile(path, f, totalSize, blockSize, o)
	if err != nil {
		f.Close()
		return nil, err
	}

	tagMagic(path, log)

	log.WithFields(logrus.Fields{"path": path, "total_size": totalSize, "block_size": blockSize}).Info("container: created")

	return c, nil
}

// createFromFile initializes a fresh container layout (Header,
// FreeMap, root FSRecord) over an already-sized File and syncs it.
// Split out from Create so tests can exercise this logic over an
// in-memory File without touching a real direct-I/O file or the
// renameio atomic-create path.
func createFromFile(path string, f blockcache.File, totalSize, blockSize uint64, o *options) (*Container, error) {
	log := o.logger

	gen, err := newGenerator(o)
	if err != nil {
		return nil, err
	}

	cache, err := blockcache.New(f, o.cacheCap, blockSize, blockcache.WithLogger(log))
	if err != nil {
		return nil, err
	}
	w := bytewindow.New(cache)

	blockCount := totalSize / blockSize
	fm := allocator.New(blockCount)
	// Block 0 holds the header, block rootRecordBlock holds the root
	// FSRecord; both start occupied.
	fm.Fill(0)
	fm.Fill(rootRecordBlock)

	freeMapWordCount := (blockCount + 63) / 64
	freeMapBlocks := (freeMapWordCount*8 + blockSize - 1) / blockSize
	freeMapOffset := (rootRecordBlock + 1) * blockSize
	for i := uint64(0); i < freeMapBlocks; i++ {
		fm.Fill(rootRecordBlock + 1 + i)
	}

	h := header.New(uint32(blockSize), totalSize)
	h.FreeMapOffset = freeMapOffset
	h.MetaOffset = 0
	h.SnapshotOffset = freeMapOffset + freeMapBlocks*blockSize
	h.EntryCount = 1

	rootRUID := gen.Generate(0)
	root := &fsrecord.Record{
		Type:       fsrecord.TypeDirectory,
		ParentRUID: rootRUID,
		SelfRUID:   rootRUID,
		Name:       "/",
	}

	c := &Container{
		path:        path,
		file:        f,
		cache:       cache,
		window:      w,
		header:      h,
		freeMap:     fm,
		generator:   gen,
		rootRUID:    rootRUID,
		log:         log,
		headerDirty: true,
	}

	if err := c.storeRoot(root); err != nil {
		return nil, err
	}
	if err := header.Store(w, h); err != nil {
		return nil, err
	}
	if err := c.Sync(); err != nil {
		return nil, err
	}
	c.headerDirty = false

	return c, nil
}

// tagMagic best-effort tags path with a textual magic+version xattr
// purely for external introspection (e.g. getfattr). It is never part
// of the on-disk contract: unsupported filesystems or permission
// failures are logged at Debug and never surface as an error.
func tagMagic(path string, log logrus.FieldLogger) {
	value := string(header.Magic[:]) + "/v1"
	if err := xattr.Set(path, xattrMagicName, []byte(value)); err != nil {
		log.WithError(err).Debug("container: xattr tag not supported, skipping")
	}
}

func (c *Container) storeRoot(r *fsrecord.Record) error {
	buf := make([]byte, r.EncodedLen())
	if err := r.Encode(buf); err != nil {
		return err
	}
	return c.window.Write(buf, rootRecordBlock*uint64(c.header.BlockSize))
}

// Header returns the container's in-memory Header. Mutations take
// effect on the next Sync.
func (c *Container) Header() *header.Header {
	return c.header
}

// FreeMap returns the container's in-memory FreeMap.
func (c *Container) FreeMap() *allocator.FreeMap {
	return c.freeMap
}

// Generator returns the container's RuidGenerator.
func (c *Container) Generator() *ruid.Generator {
	return c.generator
}

// Window returns the byte-addressed façade over the container's
// BlockCache, for clients that need to read or write arbitrary
// sections (FSRecord trees, snapshot descriptors) directly.
func (c *Container) Window() *bytewindow.Window {
	return c.window
}

// RootRecord reads the root FSRecord back from its fixed block.
func (c *Container) RootRecord() (*fsrecord.Record, error) {
	buf := make([]byte, c.header.BlockSize)
	if err := c.window.Read(buf, rootRecordBlock*uint64(c.header.BlockSize)); err != nil {
		return nil, err
	}
	return fsrecord.Decode(buf)
}

// Snapshots loads every descriptor currently recorded in the header's
// snapshot section.
func (c *Container) Snapshots() ([]snapshot.Descriptor, error) {
	return snapshot.Load(c.window, c.header.SnapshotOffset, c.header.SnapshotCount)
}

// CreateSnapshot appends a new snapshot descriptor at createdAt and
// persists the updated section and header on the next Sync.
func (c *Container) CreateSnapshot(createdAt int64) (snapshot.Descriptor, error) {
	existing, err := c.Snapshots()
	if err != nil {
		return snapshot.Descriptor{}, err
	}
	id := uuid.NewV4()
	d := snapshot.New(id, createdAt)
	existing = append(existing, d)

	count, err := snapshot.Store(c.window, c.header.SnapshotOffset, existing)
	if err != nil {
		return snapshot.Descriptor{}, err
	}
	c.header.SnapshotCount = count
	c.headerDirty = true
	return d, nil
}

// Sync flushes the BlockCache's pending writes, persists the
// FreeMap's dirty leaf-layer words back to the free-map section, and
// rewrites the Header if any of its fields changed since it was last
// persisted.
func (c *Container) Sync() error {
	if err := c.cache.Sync(); err != nil {
		return err
	}

	if err := c.flushFreeMap(); err != nil {
		return err
	}

	if c.headerDirty {
		if err := header.Store(c.window, c.header); err != nil {
			return err
		}
		if err := c.cache.Sync(); err != nil {
			return err
		}
		c.headerDirty = false
	}

	c.log.Debug("container: sync complete")
	return nil
}

// flushFreeMap writes every dirty layer-0 word of the FreeMap back to
// the free-map section, tracked via the FreeMap's bitset.BitSet dirty
// set so an unchanged container does no free-map I/O at all.
func (c *Container) flushFreeMap() error {
	dirty := c.freeMap.Dirty()
	if dirty.Count() == 0 {
		return nil
	}

	buf := make([]byte, 8)
	for i, ok := dirty.NextSet(0); ok; i, ok = dirty.NextSet(i + 1) {
		word := c.freeMap.LeafWord(uint64(i))
		putUint64LE(buf, word)
		if err := c.window.Write(buf, c.header.FreeMapOffset+uint64(i)*8); err != nil {
			return err
		}
		// Flush before the next word: its read-modify-write of the
		// same block must see this one.
		if err := c.cache.Sync(); err != nil {
			return err
		}
	}
	c.freeMap.ClearDirty()
	return nil
}

func putUint64LE(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> uint(8*i))
	}
}

// Resize grows the container by delta bytes: it extends the backing
// file, replaces the in-memory FreeMap with one sized for the new
// block count (FreeMap.Grow flips the newly in-range tail bits from
// occupied back to free, mirroring New's construction-time fill in
// reverse), and marks the Header dirty so the new total size and
// free-map offset recomputation take effect on the next Sync.
//
// Shrinking is not supported; delta must describe growth.
func (c *Container) Resize(delta uint64) error {
	if delta == 0 {
		return nil
	}
	blockSize := uint64(c.header.BlockSize)
	if delta%blockSize != 0 {
		return vderr.New(vderr.Other, "container: resize delta must be a multiple of the block size")
	}

	newTotal := c.header.TotalSize + delta
	tr, ok := c.file.(truncater)
	if !ok {
		return vderr.New(vderr.Other, "container: backing file does not support resizing")
	}
	if err := tr.Truncate(int64(newTotal)); err != nil {
		return vderr.Wrap(vderr.Other, "container: resize truncate failed", err)
	}

	newBlockCount := newTotal / blockSize
	nf, err := c.freeMap.Grow(newBlockCount)
	if err != nil {
		return vderr.Wrap(vderr.Other, "container: free-map grow failed", err)
	}

	c.freeMap = nf
	c.header.TotalSize = newTotal
	c.headerDirty = true

	c.log.WithFields(logrus.Fields{"delta": delta, "new_total": newTotal}).Info("container: resized")
	return nil
}

// Close syncs pending writes and closes the backing file.
func (c *Container) Close() error {
	if err := c.Sync(); err != nil {
		c.file.Close()
		return err
	}
	if err := c.file.Close(); err != nil {
		return vderr.Wrap(vderr.Other, "container: close failed", err)
	}
	return nil
}

