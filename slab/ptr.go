package slab

import "unsafe"

// uintptrOf returns the address of a byte slice's backing array, used
// only to verify and to compute alignment. It performs no pointer
// arithmetic beyond what unsafe.Pointer already permits for this
// purpose.
func uintptrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
