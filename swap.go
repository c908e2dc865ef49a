package inlinehook

import (
	"fmt"
	"unsafe"
)

// SwapHook redirects a target function to a detour using only the target's
// own first JumpSize bytes as storage. It has no way to call the original
// function while the jump is in place, so a detour that needs the original
// toggles the hook off around the call:
//
//	h.Toggle()
//	r := h.Target()(x)
//	h.Toggle()
//
// A SwapHook holds no pointers, only offsets from its own address, so its
// bytes can be moved together with the detour (see RemoteSwap). A hook must
// not be copied by value on its own. The zero value is an empty hook; give it
// a detour with SetDetour before calling Hook. SetDetour keeps the hook off
// the goroutine stack, so a local variable works as well as a package-level
// one.
//
// None of the methods synchronize. Hook, Toggle and Unhook rewrite code that
// other goroutines may be executing; the caller must make sure no thread is
// running the first JumpSize bytes of the target while they do.
type SwapHook[T any] struct {
	// ref is the detour while uninstalled and the target otherwise.
	ref Offset

	// scratch holds the original target bytes while installed and the
	// jump while bypassed.
	scratch [JumpSize]byte

	state State
}

// NewSwapHook returns an uninstalled hook that redirects to detour.
func NewSwapHook[T any](detour T) *SwapHook[T] {
	h := new(SwapHook[T])
	h.SetDetour(detour)
	return h
}

func (h *SwapHook[T]) self() uintptr {
	return uintptr(unsafe.Pointer(h))
}

// SetDetour sets the function Hook will redirect to. The hook must be
// uninstalled.
func (h *SwapHook[T]) SetDetour(detour T) {
	checkFuncType[T]()
	h.setDetourAddr(mustCodeOf(detour))
}

func (h *SwapHook[T]) setDetourAddr(detour uintptr) {
	if h.state != Uninstalled {
		panic("inlinehook: SetDetour called on an installed hook")
	}
	pin(unsafe.Pointer(h))
	h.ref = OffsetOf(h.self(), detour)
	h.scratch = EncodeJump(0)
}

// State returns the lifecycle state of the hook.
func (h *SwapHook[T]) State() State {
	return h.state
}

// Hook installs a jump to the detour at the start of target. The first
// JumpSize bytes of target must be writable (see Memory.Unprotect).
//
// A *RangeError is returned if the detour is too far from the target, in
// which case nothing is written.
func (h *SwapHook[T]) Hook(target T) error {
	addr, err := codeOf(target)
	if err != nil {
		return err
	}
	return h.hookAddr(addr)
}

func (h *SwapHook[T]) hookAddr(target uintptr) error {
	if h.state != Uninstalled {
		panic(fmt.Sprintf("inlinehook: Hook called on a %v hook", h.state))
	}
	if h.ref == 0 {
		return ErrNoDetour
	}

	self := h.self()
	detour := h.ref.Resolve(self)

	disp, err := JumpDisplacement(target, detour)
	if err != nil {
		return err
	}
	patch := EncodeJump(disp)

	code := bytesAt(target, JumpSize)
	copy(h.scratch[:], code)
	copy(code, patch[:])

	h.ref = OffsetOf(self, target)
	h.state = Installed

	debugf("hooked %#x -> %#x", target, detour)
	return nil
}

// Toggle exchanges the bytes at the target with the parked ones, switching
// between redirected and original behavior. Toggle doesn't check what is at
// the target; an odd number of calls before Unhook is a caller error.
func (h *SwapHook[T]) Toggle() {
	h.state = h.state.toggled()
	exchange(bytesAt(h.ref.Resolve(h.self()), JumpSize), h.scratch[:])
}

// Unhook restores the original bytes at the target and makes the hook refer
// to its detour again. The hook must be installed and not bypassed. Hooks on
// the same target must be removed in the reverse order they were installed.
func (h *SwapHook[T]) Unhook() {
	if h.state != Installed {
		panic(fmt.Sprintf("inlinehook: Unhook called on a %v hook", h.state))
	}

	self := h.self()
	target := h.ref.Resolve(self)
	code := bytesAt(target, JumpSize)

	disp, err := DecodeJump(code)
	if err != nil {
		panic(fmt.Sprintf("inlinehook: no jump at hooked target %#x: % x", target, code))
	}
	detour := jumpDest(target, disp)

	copy(code, h.scratch[:])
	h.scratch = EncodeJump(0)
	h.ref = OffsetOf(self, detour)
	h.state = Uninstalled

	debugf("unhooked %#x", target)
}

// Target returns the function the hook refers to: the target while
// installed, the detour otherwise.
func (h *SwapHook[T]) Target() T {
	return funcOf[T](h.ref.Resolve(h.self()))
}

// Detour returns the function the hook redirects to.
func (h *SwapHook[T]) Detour() T {
	return funcOf[T](h.detourAddr())
}

func (h *SwapHook[T]) detourAddr() uintptr {
	target := h.ref.Resolve(h.self())

	var patch []byte
	switch h.state {
	case Uninstalled:
		return target
	case Installed:
		patch = bytesAt(target, JumpSize)
	case Bypassed:
		patch = h.scratch[:]
	}

	disp, err := DecodeJump(patch)
	if err != nil {
		panic(fmt.Sprintf("inlinehook: hook for %#x lost its jump: % x", target, patch))
	}
	return jumpDest(target, disp)
}
