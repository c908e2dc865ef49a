package inlinehook

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:noinline
func swapTarget(x int) int {
	return x + 100
}

var swapCallThrough SwapHook[func(int) int]

func swapCallThroughDetour(x int) int {
	swapCallThrough.Toggle()
	r := swapCallThrough.Target()(x)
	swapCallThrough.Toggle()
	return r * 2
}

func TestSwapHook(t *testing.T) {
	assert := assert.New(t)
	orig := unprotect(t, swapTarget)

	h := NewSwapHook(double)
	assert.Equal(Uninstalled, h.State())
	assert.Equal(mustCodeOf(double), mustCodeOf(h.Target()))
	assert.Equal(mustCodeOf(double), mustCodeOf(h.Detour()))

	require.NoError(t, h.Hook(swapTarget))
	assert.Equal(Installed, h.State())
	assert.Equal(14, swapTarget(7))
	assert.Equal(mustCodeOf(swapTarget), mustCodeOf(h.Target()))
	assert.Equal(mustCodeOf(double), mustCodeOf(h.Detour()))

	h.Unhook()
	assert.Equal(Uninstalled, h.State())
	assert.Equal(107, swapTarget(7))
	assert.Equal(mustCodeOf(double), mustCodeOf(h.Target()))
	assertUnmodified(t, swapTarget, orig)

	// Hooks can be reused.
	require.NoError(t, h.Hook(swapTarget))
	assert.Equal(14, swapTarget(7))
	h.Unhook()
	assertUnmodified(t, swapTarget, orig)
}

func TestSwapHook_Toggle(t *testing.T) {
	assert := assert.New(t)
	orig := unprotect(t, swapTarget)

	h := NewSwapHook(negate)
	require.NoError(t, h.Hook(swapTarget))

	for i := 1; i <= 4; i++ {
		h.Toggle()
		if i%2 == 1 {
			assert.Equal(Bypassed, h.State())
			assert.Equal(101, swapTarget(1))
			assert.Equal(mustCodeOf(negate), mustCodeOf(h.Detour()))
		} else {
			assert.Equal(Installed, h.State())
			assert.Equal(-1, swapTarget(1))
		}
	}

	assert.Panics(func() { h.Toggle(); h.Unhook() }, "unhook while bypassed")
	h.Toggle()
	h.Unhook()
	assertUnmodified(t, swapTarget, orig)

	assert.Panics(func() { h.Toggle() }, "toggle while uninstalled")
	assert.Panics(func() { h.Unhook() }, "unhook while uninstalled")
}

func TestSwapHook_CallThrough(t *testing.T) {
	orig := unprotect(t, swapTarget)

	swapCallThrough.SetDetour(swapCallThroughDetour)
	require.NoError(t, swapCallThrough.Hook(swapTarget))

	assert.Equal(t, 210, swapTarget(5))
	assert.Equal(t, Installed, swapCallThrough.State())

	swapCallThrough.Unhook()
	assert.Equal(t, 105, swapTarget(5))
	assertUnmodified(t, swapTarget, orig)
}

func TestSwapHook_IdentityDetour(t *testing.T) {
	orig := unprotect(t, swapTarget)

	h := NewSwapHook(identity)
	require.NoError(t, h.Hook(swapTarget))
	assert.Equal(t, 3, swapTarget(3))
	h.Unhook()
	assertUnmodified(t, swapTarget, orig)
}

func TestSwapHook_Chain(t *testing.T) {
	assert := assert.New(t)
	orig := unprotect(t, swapTarget)

	first := NewSwapHook(double)
	second := NewSwapHook(negate)

	require.NoError(t, first.Hook(swapTarget))
	require.NoError(t, second.Hook(swapTarget))
	assert.Equal(-3, swapTarget(3))

	// Bypassing the second hook exposes the first.
	second.Toggle()
	assert.Equal(6, swapTarget(3))
	second.Toggle()

	second.Unhook()
	assert.Equal(6, swapTarget(3))
	first.Unhook()
	assert.Equal(103, swapTarget(3))
	assertUnmodified(t, swapTarget, orig)
}

func TestSwapHook_Errors(t *testing.T) {
	unprotect(t, swapTarget)

	var empty SwapHook[func(int) int]
	assert.ErrorIs(t, empty.Hook(swapTarget), ErrNoDetour)
	assert.Equal(t, Uninstalled, empty.State())

	h := NewSwapHook(double)
	var nilTarget func(int) int
	assert.ErrorIs(t, h.Hook(nilTarget), ErrNotFunc)

	require.NoError(t, h.Hook(swapTarget))
	t.Cleanup(h.Unhook)

	assert.Panics(t, func() { h.Hook(swapTarget) })
	assert.Panics(t, func() { h.SetDetour(identity) })
}

func TestSwapHook_NotFuncType(t *testing.T) {
	assert.Panics(t, func() {
		var h SwapHook[int]
		h.SetDetour(1)
	})
}

func TestSwapHook_OutOfRange(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) == 4 {
		t.Skip("every address is reachable on 32-bit platforms")
	}
	orig := unprotect(t, swapTarget)
	target := mustCodeOf(swapTarget)

	shift := 40
	var h SwapHook[func(int) int]
	h.setDetourAddr(target + uintptr(1)<<shift)

	err := h.hookAddr(target)
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, target, rangeErr.From)

	assert.Equal(t, Uninstalled, h.State())
	assertUnmodified(t, swapTarget, orig)
	assert.Equal(t, 101, swapTarget(1))
}

func TestSwapHook_StackGrowth(t *testing.T) {
	orig := unprotect(t, swapTarget)

	t.Run("constructor", func(t *testing.T) {
		h := NewSwapHook(double)
		growStack(256)
		require.NoError(t, h.Hook(swapTarget))
		assert.Equal(t, 6, swapTarget(3))
		growStack(512)
		h.Toggle()
		assert.Equal(t, 103, swapTarget(3))
		h.Toggle()
		h.Unhook()
		assertUnmodified(t, swapTarget, orig)
	})

	t.Run("local variable", func(t *testing.T) {
		var h SwapHook[func(int) int]
		h.SetDetour(negate)
		growStack(256)
		require.NoError(t, h.Hook(swapTarget))
		assert.Equal(t, -3, swapTarget(3))
		growStack(512)
		assert.Equal(t, mustCodeOf(negate), mustCodeOf(h.Detour()))
		h.Unhook()
		assertUnmodified(t, swapTarget, orig)
	})
}
