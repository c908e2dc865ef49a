//go:build windows

package inlinehook

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// allocationGranularity is the alignment VirtualAlloc places regions on.
const allocationGranularity = 0x10000

// The arena backend maps with PAGE_EXECUTE and is then made writable.
const (
	arenaProt  = windows.PAGE_EXECUTE
	arenaRWX   = windows.PAGE_EXECUTE_READWRITE
	arenaFlags = 0
)

func (OSMemory) Unprotect(addr uintptr, size int) error {
	start, length := pageRange(addr, size)

	var oldFlags uint32
	if err := windows.VirtualProtect(start, length, windows.PAGE_EXECUTE_READWRITE, &oldFlags); err != nil {
		return fmt.Errorf("VirtualProtect %#x+%d: %w", start, length, err)
	}
	return nil
}

// Allocate probes allocation-granularity-aligned addresses upward from near,
// then downward, until it finds a free region within reach.
func (OSMemory) Allocate(near uintptr, size int) ([]byte, error) {
	base := near &^ (allocationGranularity - 1)

	for _, step := range []int64{allocationGranularity, -allocationGranularity} {
		for addr := base; withinReach(near, addr, size); addr = uintptr(int64(addr) + step) {
			if addr == 0 {
				break
			}

			var info windows.MemoryBasicInformation
			if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
				break
			}
			if info.State&windows.MEM_FREE == 0 {
				continue
			}

			region, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
			if err != nil || region == 0 {
				continue
			}
			return unsafe.Slice((*byte)(unsafe.Pointer(region)), size), nil
		}
	}

	return nil, fmt.Errorf("allocating %d bytes near %#x: %w", size, near, ErrNoNearMemory)
}
