//go:build !linux

package blockcache

import (
	"os"

	"github.com/sirupsen/logrus"
)

// OpenDirect opens path for read/write. On platforms without a known
// O_DIRECT-equivalent flag wired up here, it falls back to a regular
// buffered open and logs a warning; BlockCache's own LRU still governs
// which blocks are resident in process memory, it just no longer has
// the OS page cache's cooperation guaranteed.
func OpenDirect(path string, create bool) (*os.File, error) {
	logrus.WithField("path", path).Warn("blockcache: direct I/O not implemented for this platform, falling back to buffered I/O")
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	return os.OpenFile(path, flags, 0o644)
}
