package inlinehook

// Offset is an address stored relative to the structure that holds it.
//
// Hook state never stores absolute addresses. Every reference is resolved
// against the current address of the structure that contains it, so the raw
// bytes of a hook can be copied to a new location and keep working as long as
// the distance to whatever they reference is preserved (or fixed up, see
// RemoteSwap.CopyTo).
type Offset int

// OffsetOf returns the Offset of addr as seen from base.
func OffsetOf(base, addr uintptr) Offset {
	return Offset(addr - base)
}

// Resolve returns the absolute address o refers to when held at base.
func (o Offset) Resolve(base uintptr) uintptr {
	return base + uintptr(o)
}
