package inlinehook

import (
	"fmt"
	"unsafe"
)

// TrampolineSize is the size of the buffer a trampoline hook needs.
//
// Layout:
//
//	[0, 5)    parked bytes, exchanged with the target by Toggle
//	[5]       length of the prologue taken from the target (N)
//	[6]       length of the relocated prologue (M)
//	[8, 8+M)  relocated prologue
//	[8+M, +5) JMP back to target+N
//	[44, +N)  unmodified copy of the prologue
//
// Everything else is INT3.
const TrampolineSize = 64

const (
	trampolinePrologueLen = 5
	trampolineBodyLen     = 6
	trampolineEntry       = 8
	trampolineOriginal    = 44

	maxTrampolineBody = trampolineOriginal - trampolineEntry - JumpSize
)

// initTrampoline prepares buf to be used as a trampoline.
func initTrampoline(buf []byte) error {
	if len(buf) < TrampolineSize {
		return fmt.Errorf("trampoline needs %d bytes, got %d: %w", TrampolineSize, len(buf), ErrBufferTooSmall)
	}

	for i := range buf[:TrampolineSize] {
		buf[i] = opcodeINT3
	}
	parked := EncodeJump(0)
	copy(buf, parked[:])
	buf[trampolinePrologueLen] = 0
	buf[trampolineBodyLen] = 0
	return nil
}

// buildTrampoline copies the prologue of target into tramp so that calling
// the trampoline entry behaves like calling the unmodified target. The parked
// bytes are left alone.
//
// Nothing is written unless the prologue can be relocated and the jump back
// reaches the target.
func buildTrampoline(tramp []byte, target uintptr) error {
	code := bytesAt(target, MaxPrologueSize)

	n, err := PrologueLength(code, JumpSize, currentConfig().Decoder)
	if err != nil {
		return fmt.Errorf("scanning prologue at %#x: %w", target, err)
	}

	entry := addrOf(tramp) + trampolineEntry
	body, err := relocatePrologue(code[:n], target, entry)
	if err != nil {
		return fmt.Errorf("relocating prologue at %#x: %w", target, err)
	}
	if len(body) > maxTrampolineBody {
		return fmt.Errorf("relocated prologue at %#x is %d bytes, trampoline holds %d: %w", target, len(body), maxTrampolineBody, ErrUnrelocatable)
	}

	jumpAt := entry + uintptr(len(body))
	disp, err := JumpDisplacement(jumpAt, target+uintptr(n))
	if err != nil {
		return err
	}

	for i := trampolineEntry; i < TrampolineSize; i++ {
		tramp[i] = opcodeINT3
	}
	tramp[trampolinePrologueLen] = byte(n)
	tramp[trampolineBodyLen] = byte(len(body))
	copy(tramp[trampolineEntry:], body)
	jmp := EncodeJump(disp)
	copy(tramp[trampolineEntry+len(body):], jmp[:])
	copy(tramp[trampolineOriginal:], code[:n])

	debugTrampoline(tramp)
	return nil
}

// TrampolineHook redirects a target function to a detour like SwapHook, and
// also keeps a relocated copy of the target's prologue followed by a jump
// back into the target. Calling Trampoline runs the original function
// whether or not the hook is toggled.
//
// The trampoline buffer must be executable, within reach of a rel32 jump
// from the target, and set with SetTrampoline before Hook. Like SwapHook,
// the zero value is an empty hook, the struct holds only offsets and must not
// be copied by value, and none of the methods synchronize.
type TrampolineHook[T any] struct {
	// ref is the detour while uninstalled and the target otherwise.
	ref   Offset
	tramp Offset
	state State
}

// NewTrampolineHook returns an uninstalled hook that redirects to detour.
func NewTrampolineHook[T any](detour T) *TrampolineHook[T] {
	h := new(TrampolineHook[T])
	h.SetDetour(detour)
	return h
}

func (h *TrampolineHook[T]) self() uintptr {
	return uintptr(unsafe.Pointer(h))
}

// SetDetour sets the function Hook will redirect to. The hook must be
// uninstalled.
func (h *TrampolineHook[T]) SetDetour(detour T) {
	checkFuncType[T]()
	h.setDetourAddr(mustCodeOf(detour))
}

func (h *TrampolineHook[T]) setDetourAddr(detour uintptr) {
	if h.state != Uninstalled {
		panic("inlinehook: SetDetour called on an installed hook")
	}
	pin(unsafe.Pointer(h))
	h.ref = OffsetOf(h.self(), detour)
}

// SetTrampoline gives the hook a buffer of at least TrampolineSize bytes for
// its trampoline. The buffer must outlive the hook.
func (h *TrampolineHook[T]) SetTrampoline(buf []byte) error {
	if h.state != Uninstalled {
		return ErrInstalled
	}
	if err := initTrampoline(buf); err != nil {
		return err
	}
	pin(unsafe.Pointer(h))
	h.tramp = OffsetOf(h.self(), addrOf(buf))
	return nil
}

func (h *TrampolineHook[T]) trampoline() []byte {
	if h.tramp == 0 {
		panic("inlinehook: hook has no trampoline")
	}
	return bytesAt(h.tramp.Resolve(h.self()), TrampolineSize)
}

// State returns the lifecycle state of the hook.
func (h *TrampolineHook[T]) State() State {
	return h.state
}

// Hook builds the trampoline for target and installs a jump to the detour at
// its start. The first JumpSize bytes of target must be writable.
//
// A *RangeError is returned if the detour or trampoline is too far from the
// target, and an error wrapping ErrUnrelocatable if the prologue can't be
// copied. The target is not modified in either case.
func (h *TrampolineHook[T]) Hook(target T) error {
	addr, err := codeOf(target)
	if err != nil {
		return err
	}
	return h.hookAddr(addr)
}

func (h *TrampolineHook[T]) hookAddr(target uintptr) error {
	if h.state != Uninstalled {
		panic(fmt.Sprintf("inlinehook: Hook called on a %v hook", h.state))
	}
	if h.ref == 0 {
		return ErrNoDetour
	}
	if h.tramp == 0 {
		return ErrNoTrampoline
	}

	self := h.self()
	detour := h.ref.Resolve(self)

	disp, err := JumpDisplacement(target, detour)
	if err != nil {
		return err
	}
	patch := EncodeJump(disp)

	tramp := h.trampoline()
	if err := buildTrampoline(tramp, target); err != nil {
		return err
	}

	code := bytesAt(target, JumpSize)
	copy(tramp, code)
	copy(code, patch[:])

	h.ref = OffsetOf(self, target)
	h.state = Installed

	debugf("hooked %#x -> %#x, trampoline %#x", target, detour, addrOf(tramp)+trampolineEntry)
	return nil
}

// Toggle exchanges the bytes at the target with the ones parked in the
// trampoline, switching between redirected and original behavior.
func (h *TrampolineHook[T]) Toggle() {
	h.state = h.state.toggled()
	exchange(bytesAt(h.ref.Resolve(h.self()), JumpSize), h.trampoline())
}

// Unhook restores the original bytes at the target and makes the hook refer
// to its detour again. The hook must be installed and not bypassed.
//
// The trampoline keeps working after Unhook.
func (h *TrampolineHook[T]) Unhook() {
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

	tramp := h.trampoline()
	copy(code, tramp[:JumpSize])
	parked := EncodeJump(0)
	copy(tramp, parked[:])

	h.ref = OffsetOf(self, detour)
	h.state = Uninstalled

	debugf("unhooked %#x", target)
}

// Target returns the function the hook refers to: the target while
// installed, the detour otherwise.
func (h *TrampolineHook[T]) Target() T {
	return funcOf[T](h.ref.Resolve(h.self()))
}

// Trampoline returns a function that runs the original target. It is only
// meaningful once Hook has been called.
func (h *TrampolineHook[T]) Trampoline() T {
	return funcOf[T](addrOf(h.trampoline()) + trampolineEntry)
}
