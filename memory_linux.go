package inlinehook

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type mapping struct {
	from, to uintptr
}

// readMappings parses the address ranges out of /proc/self/maps. The kernel
// lists them in ascending order.
func readMappings() ([]mapping, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var maps []mapping
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		addrs, _, _ := strings.Cut(scanner.Text(), " ")
		from, to, ok := strings.Cut(addrs, "-")
		if !ok {
			continue
		}

		f, err := strconv.ParseUint(from, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", addrs, err)
		}
		t, err := strconv.ParseUint(to, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", addrs, err)
		}
		maps = append(maps, mapping{from: uintptr(f), to: uintptr(t)})
	}
	return maps, scanner.Err()
}

// freeAfter returns the lowest address at or above start where length bytes
// don't overlap any mapping.
func freeAfter(maps []mapping, start, length uintptr) uintptr {
	addr := start
	for _, m := range maps {
		if m.to <= addr {
			continue
		}
		if m.from >= addr+length {
			break
		}
		addr = m.to
	}
	return addr
}

// Allocate maps the first gap after the mapping that contains near that is
// large enough for size bytes.
func (OSMemory) Allocate(near uintptr, size int) ([]byte, error) {
	_, length := pageRange(0, size)
	start := near &^ (pageSize - 1)

	// Another thread can map the gap between reading the table and mapping
	// it, so try a few times.
	for attempt := 0; attempt < 3; attempt++ {
		maps, err := readMappings()
		if err != nil {
			return nil, err
		}

		addr := freeAfter(maps, start, length)
		if !withinReach(near, addr, size) {
			break
		}

		buf, err := mmapAt(addr, size)
		if err != nil {
			continue
		}
		if addrOf(buf) != addr {
			munmap(buf)
			continue
		}
		return buf, nil
	}

	return nil, fmt.Errorf("allocating %d bytes near %#x: %w", size, near, ErrNoNearMemory)
}
