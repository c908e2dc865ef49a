// Package inlinehook redirects compiled Go functions at run time by patching
// a 5 byte relative jump over the start of the target.
//
// There are three kinds of hook. SwapHook keeps the target's displaced bytes
// inside the hook and calls the original by toggling the jump off around the
// call. TrampolineHook also copies the target's prologue into a trampoline,
// so the original can be called while the jump is in place. StaticHook is a
// trampoline hook that can't be toggled. Binding wraps all three for the
// common case of one package-level hook per target:
//
//	var square inlinehook.Binding[func(int) int]
//
//	func addOneBefore(x int) (r int) {
//		square.CallThrough(func(orig func(int) int) { r = orig(x + 1) })
//		return r
//	}
//
//	square.Define(inlinehook.Trampoline, addOneBefore)
//	square.Hook(Square)
//
// Hooks store only offsets from their own address, so their bytes can be
// copied together with the detour into memory near a distant target. See
// RemoteSwap.
//
// Limitations:
//   - Only amd64 and 386 are supported, and remote blobs are amd64 only
//   - Targets that have been inlined by the compiler are silently unaffected
//   - Detours must be top-level functions, not closures or method values
//   - Code copied into a trampoline or blob has no stack maps; it must not
//     grow the stack, so keep detours small
//   - Hooks hold offsets from their own address; don't copy a hook by value
//     except through RemoteSwap or RemoteTrampoline
//   - Relies on internal Go APIs that can break at any time
//
// None of the hooks synchronize. Hook, Toggle and Unhook rewrite machine code
// that other threads may be running; the caller must make sure no thread is
// executing the target's first bytes while they do.
package inlinehook
