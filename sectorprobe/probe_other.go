//go:build !linux && !windows

package sectorprobe

import "github.com/sirupsen/logrus"

// defaultSectorSize is returned on platforms with no probed source;
// 512 is the long-standing universal logical sector size floor.
const defaultSectorSize = 512

func bytesPerSector(dir string) (uint64, error) {
	logrus.WithField("dir", dir).Warn("sectorprobe: unsupported platform, assuming default sector size")
	return defaultSectorSize, nil
}
