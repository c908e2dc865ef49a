package inlinehook

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pboyd/malloc"
)

// arena hands out executable memory for trampolines. Trampolines are written
// on every Toggle, so the arena is kept writable.
type arena struct {
	*malloc.Arena
	mprotect func(int) error
	mu       sync.Mutex
	initOnce sync.Once
	initErr  error
}

func (a *arena) init(startSize int) error {
	a.initOnce.Do(func() {
		be := malloc.MmapBackend(malloc.MmapProt(arenaProt), malloc.MmapFlags(arenaFlags))
		if protBE, ok := any(be).(malloc.ProtectedArenaBackend); ok {
			a.mprotect = protBE.Protect
		} else {
			a.mprotect = func(int) error {
				return nil
			}
		}

		a.Arena = malloc.NewArena(uint64(startSize), malloc.Backend(be))
		if a.Arena == nil {
			a.initErr = errors.New("unable to initialize arena")
		}
	})
	return a.initErr
}

func (a *arena) Allocate(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.init(max(size, currentConfig().ArenaSize)); err != nil {
		return nil, fmt.Errorf("error initializing allocator: %w", err)
	}

	buf, err := malloc.MallocSlice[byte](a.Arena, size)
	if err != nil {
		return nil, err
	}

	// The arena may have grown with new mappings, which start out with
	// arenaProt.
	if err := a.mprotect(arenaRWX); err != nil {
		return nil, fmt.Errorf("making arena writable: %w", err)
	}
	return buf, nil
}

func (a *arena) Free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Arena == nil {
		panic("Free called before Allocate")
	}
	malloc.FreeSlice(a.Arena, buf)
}

var trampolineArena = &arena{}

// AllocTrampoline returns TrampolineSize bytes of executable memory from a
// shared arena. On Linux the arena lives in the low 2GB of the address space,
// which is within reach of a non-PIE executable's code; otherwise use
// Memory.Allocate to get memory near the target.
func AllocTrampoline() ([]byte, error) {
	return trampolineArena.Allocate(TrampolineSize)
}

// FreeTrampoline returns a buffer from AllocTrampoline to the arena. The hook
// using it must be uninstalled and nothing may still be running its
// trampoline.
func FreeTrampoline(buf []byte) {
	trampolineArena.Free(buf)
}
