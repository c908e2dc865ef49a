package inlinehook

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:noinline
func configTarget(x int) int {
	return x + 7
}

// withConfig replaces the package configuration for the rest of the test.
func withConfig(t *testing.T, c Config) {
	t.Helper()

	prev := currentConfig()
	Configure(c)
	t.Cleanup(func() { Configure(prev) })
}

func TestConfigFromEnv(t *testing.T) {
	for _, name := range []string{"INLINEHOOK_DEBUG", "INLINEHOOK_ARENA_SIZE", "INLINEHOOK_NEAR_ALLOC"} {
		if _, ok := os.LookupEnv(name); ok {
			t.Skipf("%s is set", name)
		}
	}

	c := ConfigFromEnv()
	assert.False(t, c.Debug)
	assert.Equal(t, 4096, c.ArenaSize)
	assert.True(t, c.NearAlloc)
	assert.Equal(t, OSMemory{}, c.Memory)
	assert.Equal(t, X86Decoder{}, c.Decoder)
	assert.NotNil(t, c.Logger)
}

func TestConfigure_Defaults(t *testing.T) {
	withConfig(t, Config{NearAlloc: true})

	c := currentConfig()
	assert.Equal(t, 4096, c.ArenaSize)
	assert.NotNil(t, c.Memory)
	assert.NotNil(t, c.Decoder)
	assert.NotNil(t, c.Logger)
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	withConfig(t, Config{
		Debug:     true,
		NearAlloc: true,
		Logger:    log.New(&buf, "", 0),
	})
	unprotect(t, configTarget)

	h := NewTrampolineHook(double)
	require.NoError(t, h.SetTrampoline(nearBuffer(t, configTarget, TrampolineSize)))
	require.NoError(t, h.Hook(configTarget))
	assert.Equal(t, 6, configTarget(3))
	h.Unhook()
	assert.Equal(t, 10, configTarget(3))

	out := buf.String()
	assert.Contains(t, out, "trampoline at")
	assert.Contains(t, out, "JMP")
	assert.Contains(t, out, "hooked")
	assert.Contains(t, out, "unhooked")
}

func TestDebugLogging_Off(t *testing.T) {
	var buf bytes.Buffer
	withConfig(t, Config{Logger: log.New(&buf, "", 0)})

	debugf("should not appear")
	assert.Empty(t, buf.String())
}

// countingDecoder wraps X86Decoder and counts the instructions it decodes.
type countingDecoder struct {
	X86Decoder
	n int
}

func (d *countingDecoder) DecodeLength(code []byte) (int, error) {
	d.n++
	return d.X86Decoder.DecodeLength(code)
}

func TestConfigure_Decoder(t *testing.T) {
	dec := &countingDecoder{}
	withConfig(t, Config{NearAlloc: true, Decoder: dec})
	unprotect(t, configTarget)

	h := NewTrampolineHook(negate)
	require.NoError(t, h.SetTrampoline(nearBuffer(t, configTarget, TrampolineSize)))
	require.NoError(t, h.Hook(configTarget))
	h.Unhook()

	assert.Positive(t, dec.n)
}
