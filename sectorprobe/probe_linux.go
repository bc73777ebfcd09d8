//go:build linux

package sectorprobe

import (
	"golang.org/x/sys/unix"

	"github.com/vdstore/vd/vderr"
)

func bytesPerSector(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, vderr.Wrap(vderr.Other, "sectorprobe: statfs failed", err)
	}
	return uint64(stat.Frsize), nil
}
