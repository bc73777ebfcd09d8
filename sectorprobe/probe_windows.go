//go:build windows

package sectorprobe

import (
	"golang.org/x/sys/windows"

	"github.com/vdstore/vd/vderr"
)

func bytesPerSector(dir string) (uint64, error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, vderr.Wrap(vderr.Other, "sectorprobe: path conversion failed", err)
	}

	var sectorsPerCluster, bytesPerSectorValue, numberOfFreeClusters, totalNumberOfClusters uint32
	if err := windows.GetDiskFreeSpace(path, &sectorsPerCluster, &bytesPerSectorValue, &numberOfFreeClusters, &totalNumberOfClusters); err != nil {
		return 0, vderr.Wrap(vderr.Other, "sectorprobe: GetDiskFreeSpace failed", err)
	}
	return uint64(bytesPerSectorValue), nil
}
