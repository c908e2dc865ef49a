package inlinehook

import (
	"errors"
	"math"
	"os"
)

// ErrNoNearMemory is returned when no memory can be allocated close enough
// to an address for a 32-bit displacement to reach it.
var ErrNoNearMemory = errors.New("no free memory within reach")

// Memory provides the page-level primitives hooks rely on. Hooks themselves
// never call it; Binding and the tests do.
type Memory interface {
	// Unprotect makes [addr, addr+size) writable and executable.
	Unprotect(addr uintptr, size int) error

	// Allocate returns a writable and executable region of at least size
	// bytes within reach of a rel32 jump from near.
	Allocate(near uintptr, size int) ([]byte, error)
}

// OSMemory implements Memory with the operating system's virtual memory
// calls.
type OSMemory struct{}

var _ Memory = OSMemory{}

var pageSize = uintptr(os.Getpagesize())

// pageRange returns the page-aligned region that covers [addr, addr+size).
func pageRange(addr uintptr, size int) (start, length uintptr) {
	start = addr &^ (pageSize - 1)
	end := (addr + uintptr(size) + pageSize - 1) &^ (pageSize - 1)
	return start, end - start
}

// withinReach reports whether every byte of [addr, addr+size) can be reached
// from near with a 32-bit displacement, and the other way around.
func withinReach(near, addr uintptr, size int) bool {
	lo, hi := int64(addr)-int64(near), int64(addr)+int64(size)-int64(near)
	return lo > math.MinInt32+JumpSize && hi < math.MaxInt32-JumpSize
}
