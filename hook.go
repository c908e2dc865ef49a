package inlinehook

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

var (
	// ErrNoDetour is returned when a hook is installed before it has a
	// detour.
	ErrNoDetour = errors.New("hook has no detour")

	// ErrNoTrampoline is returned when a trampoline hook is installed
	// before it has a trampoline buffer.
	ErrNoTrampoline = errors.New("hook has no trampoline")

	// ErrBufferTooSmall is returned when a caller-supplied buffer can't
	// hold what's being written to it.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInstalled is returned when an operation needs an uninstalled hook.
	ErrInstalled = errors.New("hook is installed")
)

// State is the lifecycle state of a hook.
type State uint8

const (
	// Uninstalled hooks refer to their detour and the target is untouched.
	Uninstalled State = iota

	// Installed hooks refer to their target, which starts with a jump to
	// the detour.
	Installed

	// Bypassed hooks are installed hooks that have been toggled: the
	// target holds its original bytes and the jump is parked.
	Bypassed
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installed:
		return "installed"
	case Bypassed:
		return "bypassed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// toggled returns the state a Toggle moves s to. Only installed hooks can be
// toggled.
func (s State) toggled() State {
	switch s {
	case Installed:
		return Bypassed
	case Bypassed:
		return Installed
	}
	panic("inlinehook: Toggle called on an uninstalled hook")
}

// exchange swaps the first JumpSize bytes of a and b.
func exchange(a, b []byte) {
	var tmp [JumpSize]byte
	copy(tmp[:], a[:JumpSize])
	copy(a[:JumpSize], b[:JumpSize])
	copy(b[:JumpSize], tmp[:])
}

var (
	pinMu  sync.Mutex
	pinned unsafe.Pointer
)

// pin makes the compiler place the hook at p on the heap. Hooks hold offsets
// from their own address, and a hook on a goroutine stack moves whenever the
// stack grows.
func pin(p unsafe.Pointer) {
	pinMu.Lock()
	pinned = p
	pinMu.Unlock()
}
