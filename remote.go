//go:build amd64

package inlinehook

import (
	"fmt"
	"unsafe"
)

// blobAlign is the alignment of every segment in a blob, matching the
// compiler's function alignment.
const blobAlign = 16

// Segment is a function or variable copied into a remote blob.
type Segment struct {
	addr uintptr
	size int
	code []byte // nil for data
}

// FuncSegment returns a segment holding the machine code of fn. fn must be a
// top-level function.
func FuncSegment(fn any) (Segment, error) {
	entry, err := codeOf(fn)
	if err != nil {
		return Segment{}, err
	}
	return funcSegment(entry)
}

func funcSegment(entry uintptr) (Segment, error) {
	code, err := funcSlice(entry)
	if err != nil {
		return Segment{}, err
	}
	code = trimPadding(code)
	return Segment{addr: entry, size: len(code), code: code}, nil
}

// VarSegment returns a segment holding the variable v points to. v should be
// a package-level variable that the blob's code refers to directly.
func VarSegment[V any](v *V) Segment {
	return Segment{
		addr: uintptr(unsafe.Pointer(v)),
		size: int(unsafe.Sizeof(*v)),
	}
}

// blob is a detour, the code and data it uses, and its hook state laid out to
// be copied into one buffer.
//
// Code is relocated as it's copied. Relative references into any segment are
// re-aimed at that segment's copy, so the copied detour uses the copied hook
// state and variables instead of the originals. Everything else keeps
// pointing at the original addresses, which must be within reach of the
// destination. Pointers stored inside data segments are not adjusted, and
// neither are references to code through func values.
type blob struct {
	segments []Segment // detour first, hook state last
	offsets  []int
	reserve  int // bytes after the hook state
	size     int
}

func newBlob(detour uintptr, extra []Segment, state Segment, reserve int) (*blob, error) {
	detourSeg, err := funcSegment(detour)
	if err != nil {
		return nil, fmt.Errorf("detour: %w", err)
	}

	b := &blob{reserve: reserve}
	b.segments = append(b.segments, detourSeg)
	b.segments = append(b.segments, extra...)
	b.segments = append(b.segments, state)

	off := 0
	for _, seg := range b.segments {
		off = alignUp(off, blobAlign)
		b.offsets = append(b.offsets, off)
		off += seg.size
	}
	if reserve > 0 {
		off = alignUp(off, blobAlign)
	}
	b.size = off + reserve

	return b, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Len returns the number of bytes CopyTo needs.
func (b *blob) Len() int {
	return b.size
}

func (b *blob) stateOffset() int {
	return b.offsets[len(b.offsets)-1]
}

func (b *blob) reserveOffset() int {
	return b.size - b.reserve
}

// copyTo copies every segment into dest, relocating code for dest's address.
func (b *blob) copyTo(dest []byte) error {
	if len(dest) < b.size {
		return fmt.Errorf("blob needs %d bytes, got %d: %w", b.size, len(dest), ErrBufferTooSmall)
	}
	base := addrOf(dest)

	remap := func(addr uintptr) uintptr {
		for i, seg := range b.segments {
			if addr >= seg.addr && addr < seg.addr+uintptr(seg.size) {
				return base + uintptr(b.offsets[i]) + (addr - seg.addr)
			}
		}
		return addr
	}

	for i, seg := range b.segments {
		off := b.offsets[i]
		out := dest[off : off+seg.size]

		if seg.code == nil {
			copy(out, bytesAt(seg.addr, seg.size))
			continue
		}

		if err := relocateCode(seg.code, out, seg.addr, base+uintptr(off), remap); err != nil {
			return fmt.Errorf("relocating code at %#x: %w", seg.addr, err)
		}
	}

	debugf("copied %d byte blob to %#x", b.size, base)
	return nil
}

// RemoteSwap deploys a SwapHook and its detour into memory chosen by the
// caller, typically allocated near a target in another module with
// Memory.Allocate.
//
// The detour must use the hook through the package-level SwapHook variable
// given to NewRemoteSwap, not through a pointer to it, so that the copied
// detour refers to the copied hook.
type RemoteSwap[T any] struct {
	*blob
	state *SwapHook[T]
}

// NewRemoteSwap describes a blob made of detour, the extra segments it uses,
// and the hook state. state must be uninstalled when CopyTo is called.
func NewRemoteSwap[T any](detour T, state *SwapHook[T], extra ...Segment) (*RemoteSwap[T], error) {
	checkFuncType[T]()
	entry, err := codeOf(detour)
	if err != nil {
		return nil, err
	}

	b, err := newBlob(entry, extra, VarSegment(state), 0)
	if err != nil {
		return nil, err
	}
	return &RemoteSwap[T]{blob: b, state: state}, nil
}

// CopyTo copies the blob into dest and returns the copied hook, which
// redirects to the copied detour. dest must be executable and at least Len
// bytes. The copied hook is uninstalled; install it with Hook.
func (r *RemoteSwap[T]) CopyTo(dest []byte) (*SwapHook[T], error) {
	if r.state.State() != Uninstalled {
		return nil, ErrInstalled
	}
	if err := r.copyTo(dest); err != nil {
		return nil, err
	}

	remote := (*SwapHook[T])(unsafe.Pointer(&dest[r.stateOffset()]))
	remote.setDetourAddr(addrOf(dest) + uintptr(r.offsets[0]))
	return remote, nil
}

// RemoteTrampoline deploys a TrampolineHook, its detour and its trampoline
// into memory chosen by the caller. It follows the same rules as RemoteSwap.
type RemoteTrampoline[T any] struct {
	*blob
	state *TrampolineHook[T]
}

// NewRemoteTrampoline describes a blob made of detour, the extra segments it
// uses, the hook state, and TrampolineSize bytes for the trampoline.
func NewRemoteTrampoline[T any](detour T, state *TrampolineHook[T], extra ...Segment) (*RemoteTrampoline[T], error) {
	checkFuncType[T]()
	entry, err := codeOf(detour)
	if err != nil {
		return nil, err
	}

	b, err := newBlob(entry, extra, VarSegment(state), TrampolineSize)
	if err != nil {
		return nil, err
	}
	return &RemoteTrampoline[T]{blob: b, state: state}, nil
}

// CopyTo copies the blob into dest and returns the copied hook, which
// redirects to the copied detour and uses the trampoline at the end of the
// blob.
func (r *RemoteTrampoline[T]) CopyTo(dest []byte) (*TrampolineHook[T], error) {
	if r.state.State() != Uninstalled {
		return nil, ErrInstalled
	}
	if err := r.copyTo(dest); err != nil {
		return nil, err
	}

	remote := (*TrampolineHook[T])(unsafe.Pointer(&dest[r.stateOffset()]))
	remote.setDetourAddr(addrOf(dest) + uintptr(r.offsets[0]))

	tramp := r.reserveOffset()
	if err := remote.SetTrampoline(dest[tramp : tramp+TrampolineSize]); err != nil {
		return nil, err
	}
	return remote, nil
}
