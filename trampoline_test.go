package inlinehook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:noinline
func trampolineTarget(x int) int {
	return x * 10
}

var trampItoa TrampolineHook[func(int) string]

func trampItoaDetour(x int) string {
	return trampItoa.Trampoline()(x) + "!"
}

// nearBuffer allocates executable memory within reach of fn.
func nearBuffer(t *testing.T, fn any, size int) []byte {
	t.Helper()

	buf, err := OSMemory{}.Allocate(mustCodeOf(fn), size)
	require.NoError(t, err)
	return buf
}

func TestTrampolineHook(t *testing.T) {
	assert := assert.New(t)
	orig := unprotect(t, trampolineTarget)

	h := NewTrampolineHook(negate)
	require.NoError(t, h.SetTrampoline(nearBuffer(t, trampolineTarget, TrampolineSize)))
	require.NoError(t, h.Hook(trampolineTarget))
	assert.Equal(Installed, h.State())

	assert.Equal(-3, trampolineTarget(3))
	assert.Equal(30, h.Trampoline()(3))
	assert.Equal(mustCodeOf(trampolineTarget), mustCodeOf(h.Target()))

	tramp := h.trampoline()
	n := int(tramp[trampolinePrologueLen])
	assert.GreaterOrEqual(n, JumpSize)
	assert.Equal(orig[:n], tramp[trampolineOriginal:trampolineOriginal+n])
	assert.Equal(orig[:JumpSize], tramp[:JumpSize])

	// The trampoline runs the original whether or not the hook is toggled.
	h.Toggle()
	assert.Equal(Bypassed, h.State())
	assert.Equal(30, trampolineTarget(3))
	assert.Equal(30, h.Trampoline()(3))
	h.Toggle()
	assert.Equal(-3, trampolineTarget(3))
	assert.Equal(30, h.Trampoline()(3))

	h.Unhook()
	assert.Equal(Uninstalled, h.State())
	assert.Equal(30, trampolineTarget(3))
	assert.Equal(mustCodeOf(negate), mustCodeOf(h.Target()))
	assertUnmodified(t, trampolineTarget, orig)

	// It keeps working after Unhook too.
	assert.Equal(30, h.Trampoline()(3))

	// And the hook can be installed again.
	require.NoError(t, h.Hook(trampolineTarget))
	assert.Equal(-3, trampolineTarget(3))
	h.Unhook()
	assertUnmodified(t, trampolineTarget, orig)
}

func TestTrampolineHook_CallThrough(t *testing.T) {
	orig := unprotect(t, itoaSquared)

	trampItoa.SetDetour(trampItoaDetour)
	require.NoError(t, trampItoa.SetTrampoline(nearBuffer(t, itoaSquared, TrampolineSize)))
	require.NoError(t, trampItoa.Hook(itoaSquared))

	assert.Equal(t, "25!", itoaSquared(5))
	assert.Equal(t, "16!", itoaSquared(4))

	trampItoa.Unhook()
	assert.Equal(t, "25", itoaSquared(5))
	assertUnmodified(t, itoaSquared, orig)
}

func TestTrampolineHook_Errors(t *testing.T) {
	unprotect(t, trampolineTarget)

	var h TrampolineHook[func(int) int]
	assert.ErrorIs(t, h.Hook(trampolineTarget), ErrNoDetour)

	h.SetDetour(double)
	assert.ErrorIs(t, h.Hook(trampolineTarget), ErrNoTrampoline)
	assert.ErrorIs(t, h.SetTrampoline(make([]byte, TrampolineSize-1)), ErrBufferTooSmall)
	assert.Panics(t, func() { h.Trampoline() })

	require.NoError(t, h.SetTrampoline(nearBuffer(t, trampolineTarget, TrampolineSize)))
	require.NoError(t, h.Hook(trampolineTarget))
	t.Cleanup(h.Unhook)

	assert.ErrorIs(t, h.SetTrampoline(make([]byte, TrampolineSize)), ErrInstalled)
	assert.Panics(t, func() { h.Hook(trampolineTarget) })
}

func TestTrampolineHook_Unrelocatable(t *testing.T) {
	// A fake target that starts with a LOOP. It's never called.
	code := nearBuffer(t, trampolineTarget, 64)
	copy(code, []byte{0x90, 0x90, 0x90, 0xe2, 0x10, 0xc3})
	orig := append([]byte(nil), code...)

	h := NewTrampolineHook(double)
	require.NoError(t, h.SetTrampoline(nearBuffer(t, trampolineTarget, TrampolineSize)))

	err := h.hookAddr(addrOf(code))
	assert.ErrorIs(t, err, ErrUnrelocatable)
	assert.Equal(t, Uninstalled, h.State())
	assert.Equal(t, orig, code)
}

func TestInitTrampoline(t *testing.T) {
	buf := make([]byte, TrampolineSize+8)
	for i := range buf {
		buf[i] = 0xaa
	}

	require.NoError(t, initTrampoline(buf))
	assert.Equal(t, []byte{0xe9, 0, 0, 0, 0}, buf[:JumpSize])
	assert.Equal(t, byte(0), buf[trampolinePrologueLen])
	assert.Equal(t, byte(0), buf[trampolineBodyLen])
	for _, b := range buf[trampolineEntry:TrampolineSize] {
		assert.Equal(t, byte(0xcc), b)
	}
	assert.Equal(t, byte(0xaa), buf[TrampolineSize])
}

func TestTrampolineHook_StackGrowth(t *testing.T) {
	orig := unprotect(t, trampolineTarget)

	var h TrampolineHook[func(int) int]
	h.SetDetour(double)
	require.NoError(t, h.SetTrampoline(nearBuffer(t, trampolineTarget, TrampolineSize)))
	growStack(256)

	require.NoError(t, h.Hook(trampolineTarget))
	assert.Equal(t, 6, trampolineTarget(3))
	growStack(512)
	assert.Equal(t, 30, h.Trampoline()(3))
	h.Toggle()
	assert.Equal(t, 30, trampolineTarget(3))
	h.Toggle()
	h.Unhook()
	assertUnmodified(t, trampolineTarget, orig)
}

func TestTrampolineHook_Chain(t *testing.T) {
	assert := assert.New(t)
	orig := unprotect(t, trampolineTarget)

	first := NewTrampolineHook(double)
	require.NoError(t, first.SetTrampoline(nearBuffer(t, trampolineTarget, TrampolineSize)))
	second := NewTrampolineHook(negate)
	require.NoError(t, second.SetTrampoline(nearBuffer(t, trampolineTarget, TrampolineSize)))

	require.NoError(t, first.Hook(trampolineTarget))
	require.NoError(t, second.Hook(trampolineTarget))

	assert.Equal(-3, trampolineTarget(3))
	// The second trampoline starts with the first hook's relocated jump.
	assert.Equal(6, second.Trampoline()(3))
	assert.Equal(30, first.Trampoline()(3))

	second.Toggle()
	assert.Equal(6, trampolineTarget(3))
	second.Toggle()

	second.Unhook()
	assert.Equal(6, trampolineTarget(3))
	first.Unhook()
	assert.Equal(30, trampolineTarget(3))
	assertUnmodified(t, trampolineTarget, orig)
}
