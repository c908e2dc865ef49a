//go:build unix

package inlinehook

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const mprotectRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC

func (OSMemory) Unprotect(addr uintptr, size int) error {
	start, length := pageRange(addr, size)

	// Convert the memory region to a byte slice for mprotect.
	region := bytesAt(start, int(length))

	if err := unix.Mprotect(region, mprotectRWX); err != nil {
		return fmt.Errorf("mprotect %#x+%d: %w", start, length, err)
	}
	return nil
}

// mmapAt maps size bytes at exactly addr. Platforms without a no-replace
// flag treat addr as a hint, so the result is checked by the caller.
func mmapAt(addr uintptr, size int) ([]byte, error) {
	_, length := pageRange(0, size)

	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), length, mprotectRWX, unix.MAP_PRIVATE|unix.MAP_ANON|_MAP_FIXED_NOREPLACE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(p), int(length))[:size], nil
}

func munmap(buf []byte) error {
	_, length := pageRange(0, cap(buf))
	return unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(buf)), length)
}

const (
	arenaProt  = mprotectRWX
	arenaRWX   = mprotectRWX
	arenaFlags = _MAP_32BIT
)
