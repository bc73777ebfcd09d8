// Package sectorprobe implements SectorProbe (component C9): an
// OS-specific query for the I/O block size of the volume containing a
// given path. Used once at cache construction.
package sectorprobe

// BytesPerSector returns the block size, in bytes, used for the volume
// containing dir. On Windows this is the volume's logical sector size
// from GetDiskFreeSpace; on Linux it is the filesystem fragment size
// reported by statfs, not the device's logical sector size; on other
// platforms no query is made and 512 is returned.
func BytesPerSector(dir string) (uint64, error) {
	return bytesPerSector(dir)
}
