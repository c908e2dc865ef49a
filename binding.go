package inlinehook

import "fmt"

// Kind selects the hook a Binding uses.
type Kind uint8

const (
	// Swap bindings call through by toggling the hook off around the call.
	Swap Kind = iota + 1

	// Trampoline bindings call through a relocated copy of the target's
	// prologue and can be toggled.
	Trampoline

	// Static bindings call through a trampoline and can't be toggled.
	Static
)

func (k Kind) String() string {
	switch k {
	case Swap:
		return "swap"
	case Trampoline:
		return "trampoline"
	case Static:
		return "static"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Binding ties one detour to one hook. It's meant to be declared once per
// hook point as a package-level variable, which the detour can refer to
// without creating an initialization cycle:
//
//	var addOne inlinehook.Binding[func(int) int]
//
//	func addOneBefore(x int) (r int) {
//		addOne.CallThrough(func(orig func(int) int) { r = orig(x + 1) })
//		return r
//	}
//
//	func init() {
//		addOne.Define(inlinehook.Trampoline, addOneBefore)
//	}
//
// Define must be called before any other method. Unlike the hooks, Binding
// unprotects the target and allocates a trampoline itself, using the package
// Config. It does no locking; see SwapHook.
type Binding[T any] struct {
	kind   Kind
	swap   SwapHook[T]
	tramp  TrampolineHook[T]
	static StaticHook[T]
}

// Define sets the kind of hook and its detour. It panics if the binding has
// already been defined.
func (b *Binding[T]) Define(kind Kind, detour T) {
	if b.kind != 0 {
		panic("inlinehook: Binding defined twice")
	}

	switch kind {
	case Swap:
		b.swap.SetDetour(detour)
	case Trampoline:
		b.tramp.SetDetour(detour)
	case Static:
		b.static.SetDetour(detour)
	default:
		panic(fmt.Sprintf("inlinehook: unknown hook kind %v", kind))
	}
	b.kind = kind
}

func (b *Binding[T]) mustBeDefined() {
	if b.kind == 0 {
		panic("inlinehook: Binding used before Define")
	}
}

// Kind returns the kind of hook the binding was defined with.
func (b *Binding[T]) Kind() Kind {
	return b.kind
}

// State returns the lifecycle state of the underlying hook.
func (b *Binding[T]) State() State {
	b.mustBeDefined()
	switch b.kind {
	case Swap:
		return b.swap.State()
	case Trampoline:
		return b.tramp.State()
	}
	return b.static.State()
}

// SetTrampoline supplies the trampoline buffer instead of letting Hook
// allocate one. It fails for Swap bindings.
func (b *Binding[T]) SetTrampoline(buf []byte) error {
	b.mustBeDefined()
	switch b.kind {
	case Trampoline:
		return b.tramp.SetTrampoline(buf)
	case Static:
		return b.static.SetTrampoline(buf)
	}
	return fmt.Errorf("%v binding has no trampoline", b.kind)
}

// Hook makes the prologue of target writable, allocates a trampoline if
// needed, and installs the hook.
func (b *Binding[T]) Hook(target T) error {
	b.mustBeDefined()

	addr, err := codeOf(target)
	if err != nil {
		return err
	}

	c := currentConfig()
	if err := c.Memory.Unprotect(addr, MaxPrologueSize); err != nil {
		return err
	}

	switch b.kind {
	case Swap:
		return b.swap.hookAddr(addr)
	case Trampoline:
		if b.tramp.tramp == 0 {
			if err := b.allocTrampoline(c, addr, b.tramp.SetTrampoline); err != nil {
				return err
			}
		}
		return b.tramp.hookAddr(addr)
	default:
		if b.static.tramp == 0 {
			if err := b.allocTrampoline(c, addr, b.static.SetTrampoline); err != nil {
				return err
			}
		}
		return b.static.hookAddr(addr)
	}
}

func (b *Binding[T]) allocTrampoline(c Config, near uintptr, set func([]byte) error) error {
	var (
		buf []byte
		err error
	)
	if c.NearAlloc {
		buf, err = c.Memory.Allocate(near, TrampolineSize)
	} else {
		buf, err = AllocTrampoline()
	}
	if err != nil {
		return fmt.Errorf("allocating trampoline: %w", err)
	}

	return set(buf)
}

// Unhook restores the target.
func (b *Binding[T]) Unhook() {
	b.mustBeDefined()
	switch b.kind {
	case Swap:
		b.swap.Unhook()
	case Trampoline:
		b.tramp.Unhook()
	default:
		b.static.Unhook()
	}
}

// Toggle switches between redirected and original behavior. It panics for
// Static bindings.
func (b *Binding[T]) Toggle() {
	b.mustBeDefined()
	switch b.kind {
	case Swap:
		b.swap.Toggle()
	case Trampoline:
		b.tramp.Toggle()
	default:
		panic("inlinehook: static hooks can't be toggled")
	}
}

// Target returns the function the hook refers to: the target while
// installed, the detour otherwise.
func (b *Binding[T]) Target() T {
	b.mustBeDefined()
	switch b.kind {
	case Swap:
		return b.swap.Target()
	case Trampoline:
		return b.tramp.Target()
	}
	return b.static.Target()
}

// Trampoline returns a function that runs the original target. It panics for
// Swap bindings, which have no trampoline; use CallThrough instead.
func (b *Binding[T]) Trampoline() T {
	b.mustBeDefined()
	switch b.kind {
	case Trampoline:
		return b.tramp.Trampoline()
	case Static:
		return b.static.Trampoline()
	}
	panic("inlinehook: swap hooks have no trampoline")
}

// ToggleAround runs fn with the hook toggled, and toggles it back afterwards.
func (b *Binding[T]) ToggleAround(fn func()) {
	b.Toggle()
	defer b.Toggle()
	fn()
}

// CallThrough calls call with a function that runs the original target. Swap
// bindings are toggled off for the duration of call, so a detour that calls
// the target recursively through orig sees the original behavior.
func (b *Binding[T]) CallThrough(call func(orig T)) {
	b.mustBeDefined()
	if b.kind == Swap {
		b.ToggleAround(func() {
			call(b.swap.Target())
		})
		return
	}
	call(b.Trampoline())
}
