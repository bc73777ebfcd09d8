//go:build linux

package blockcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenDirect opens path for read/write with O_DIRECT so the OS page
// cache is bypassed and BlockCache alone governs residency, per spec
// section 6 ("Container file ... opened with platform-specific flags
// that request direct, unbuffered I/O").
func OpenDirect(path string, create bool) (*os.File, error) {
	flags := os.O_RDWR | unix.O_DIRECT
	if create {
		flags |= os.O_CREATE
	}
	return os.OpenFile(path, flags, 0o644)
}
