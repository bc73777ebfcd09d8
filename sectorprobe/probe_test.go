package sectorprobe

import "testing"

func TestBytesPerSectorReturnsPositiveValue(t *testing.T) {
	got, err := BytesPerSector(".")
	if err != nil {
		t.Fatalf("BytesPerSector: %v", err)
	}
	if got == 0 {
		t.Fatalf("expected non-zero sector size")
	}
}
