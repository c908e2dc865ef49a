package inlinehook

import (
	"fmt"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

// StaticHook is a trampoline hook that can't be toggled. Hook overwrites the
// whole prologue of the target with a jump to the detour and Unhook puts it
// back from the copy kept in the trampoline. The hook only stores the detour;
// the target is recovered from the trampoline's jump back.
type StaticHook[T any] struct {
	detour Offset
	tramp  Offset
	state  State
}

// NewStaticHook returns an uninstalled hook that redirects to detour.
func NewStaticHook[T any](detour T) *StaticHook[T] {
	h := new(StaticHook[T])
	h.SetDetour(detour)
	return h
}

func (h *StaticHook[T]) self() uintptr {
	return uintptr(unsafe.Pointer(h))
}

// SetDetour sets the function Hook will redirect to. The hook must be
// uninstalled.
func (h *StaticHook[T]) SetDetour(detour T) {
	checkFuncType[T]()
	if h.state != Uninstalled {
		panic("inlinehook: SetDetour called on an installed hook")
	}
	pin(unsafe.Pointer(h))
	h.detour = OffsetOf(h.self(), mustCodeOf(detour))
}

// SetTrampoline gives the hook a buffer of at least TrampolineSize bytes for
// its trampoline. The buffer must outlive the hook.
func (h *StaticHook[T]) SetTrampoline(buf []byte) error {
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

func (h *StaticHook[T]) trampoline() []byte {
	if h.tramp == 0 {
		panic("inlinehook: hook has no trampoline")
	}
	return bytesAt(h.tramp.Resolve(h.self()), TrampolineSize)
}

// State returns the lifecycle state of the hook.
func (h *StaticHook[T]) State() State {
	return h.state
}

// Hook builds the trampoline for target and replaces its prologue with a jump
// to the detour. The prologue of target must be writable; it is at most
// MaxPrologueSize bytes.
func (h *StaticHook[T]) Hook(target T) error {
	addr, err := codeOf(target)
	if err != nil {
		return err
	}
	return h.hookAddr(addr)
}

func (h *StaticHook[T]) hookAddr(target uintptr) error {
	if h.state != Uninstalled {
		panic(fmt.Sprintf("inlinehook: Hook called on a %v hook", h.state))
	}
	if h.detour == 0 {
		return ErrNoDetour
	}
	if h.tramp == 0 {
		return ErrNoTrampoline
	}

	detour := h.detour.Resolve(h.self())
	if _, err := JumpDisplacement(target, detour); err != nil {
		return err
	}

	tramp := h.trampoline()
	if err := buildTrampoline(tramp, target); err != nil {
		return err
	}

	n := int(tramp[trampolinePrologueLen])
	if err := insertJump(bytesAt(target, n), detour); err != nil {
		return err
	}
	h.state = Installed

	debugf("hooked %#x -> %#x, replaced %d bytes", target, detour, n)
	return nil
}

// targetAddr finds the target by disassembling the trampoline up to its jump
// back, which lands prologue-length bytes into the target.
func (h *StaticHook[T]) targetAddr() uintptr {
	tramp := h.trampoline()
	n := int(tramp[trampolinePrologueLen])
	m := int(tramp[trampolineBodyLen])
	body := tramp[trampolineEntry : trampolineEntry+m+JumpSize]

	i := 0
	for i < m {
		inst, err := x86asm.Decode(body[i:], decodeMode)
		if err != nil {
			panic(fmt.Sprintf("inlinehook: corrupt trampoline at %#x: %v", addrOf(body), err))
		}
		i += inst.Len
	}

	inst, err := x86asm.Decode(body[i:], decodeMode)
	if err != nil || i != m || inst.Op != x86asm.JMP || inst.PCRel != 4 {
		panic(fmt.Sprintf("inlinehook: trampoline at %#x doesn't end with a jump back: % x", addrOf(body), body))
	}

	disp, _ := DecodeJump(body[i:])
	return jumpDest(addrOf(body)+uintptr(i), disp) - uintptr(n)
}

// Unhook restores the prologue of the target. The hook can be installed
// again afterwards.
func (h *StaticHook[T]) Unhook() {
	if h.state != Installed {
		panic(fmt.Sprintf("inlinehook: Unhook called on a %v hook", h.state))
	}

	tramp := h.trampoline()
	target := h.targetAddr()
	n := int(tramp[trampolinePrologueLen])
	copy(bytesAt(target, n), tramp[trampolineOriginal:trampolineOriginal+n])
	h.state = Uninstalled

	debugf("unhooked %#x", target)
}

// Target returns the hooked target while installed and the detour
// otherwise.
func (h *StaticHook[T]) Target() T {
	if h.state == Installed {
		return funcOf[T](h.targetAddr())
	}
	return funcOf[T](h.detour.Resolve(h.self()))
}

// Trampoline returns a function that runs the original target.
func (h *StaticHook[T]) Trampoline() T {
	return funcOf[T](addrOf(h.trampoline()) + trampolineEntry)
}
