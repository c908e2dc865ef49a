//go:build unix && !linux

package inlinehook

import "fmt"

// allocStep is how far apart candidate addresses are probed.
const allocStep = 1 << 20

// Allocate probes addresses above near, then below it, until the kernel maps
// one within reach. Without /proc/self/maps there's no table of free regions
// to consult.
func (OSMemory) Allocate(near uintptr, size int) ([]byte, error) {
	base := near &^ (allocStep - 1)

	for dist := uintptr(allocStep); dist < 1<<31; dist += allocStep {
		for _, addr := range []uintptr{base + dist, base - dist} {
			if addr > base+dist || addr == 0 || !withinReach(near, addr, size) {
				continue
			}

			buf, err := mmapAt(addr, size)
			if err != nil {
				continue
			}
			if !withinReach(near, addrOf(buf), size) {
				munmap(buf)
				continue
			}
			return buf, nil
		}
	}

	return nil, fmt.Errorf("allocating %d bytes near %#x: %w", size, near, ErrNoNearMemory)
}
