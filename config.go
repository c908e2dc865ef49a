package inlinehook

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/xyproto/env/v2"
)

// Config holds package-wide settings.
type Config struct {
	// Debug logs every hook and unhook, with a disassembly of the
	// trampoline when there is one. Set with INLINEHOOK_DEBUG.
	Debug bool

	// ArenaSize is the initial size of the trampoline arena. Set with
	// INLINEHOOK_ARENA_SIZE.
	ArenaSize int

	// NearAlloc makes Binding allocate trampolines with Memory.Allocate
	// instead of the shared arena. Set with INLINEHOOK_NEAR_ALLOC.
	NearAlloc bool

	// Memory provides page protection and allocation for Binding.
	Memory Memory

	// Decoder finds instruction boundaries when building trampolines.
	Decoder LengthDecoder

	// Logger receives debug output. Defaults to stderr.
	Logger *log.Logger
}

// ConfigFromEnv returns the default configuration, overridden by environment
// variables.
func ConfigFromEnv() Config {
	return Config{
		Debug:     env.Bool("INLINEHOOK_DEBUG"),
		ArenaSize: env.Int("INLINEHOOK_ARENA_SIZE", 4096),
		NearAlloc: env.Str("INLINEHOOK_NEAR_ALLOC", "true") != "false",
		Memory:    OSMemory{},
		Decoder:   X86Decoder{},
		Logger:    log.New(os.Stderr, "[inlinehook] ", log.LstdFlags|log.Lshortfile),
	}
}

var (
	configMu sync.RWMutex
	config   = ConfigFromEnv()
)

// Configure replaces the package configuration. A nil Memory, Decoder or
// Logger and a non-positive ArenaSize are replaced with their defaults.
func Configure(c Config) {
	if c.ArenaSize <= 0 {
		c.ArenaSize = 4096
	}
	if c.Memory == nil {
		c.Memory = OSMemory{}
	}
	if c.Decoder == nil {
		c.Decoder = X86Decoder{}
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "[inlinehook] ", log.LstdFlags|log.Lshortfile)
	}

	configMu.Lock()
	defer configMu.Unlock()
	config = c
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return config
}

func debugf(format string, args ...any) {
	c := currentConfig()
	if !c.Debug {
		return
	}
	c.Logger.Output(2, fmt.Sprintf(format, args...))
}

// debugTrampoline logs a disassembly of the callable part of a trampoline.
func debugTrampoline(tramp []byte) {
	if !currentConfig().Debug {
		return
	}

	body := tramp[trampolineEntry : trampolineEntry+int(tramp[trampolineBodyLen])+JumpSize]
	listing, err := disassemble(body, addrOf(body))
	if err != nil {
		debugf("disassembling trampoline at %#x: %v", addrOf(body), err)
		return
	}
	debugf("trampoline at %#x:\n%s", addrOf(body), listing)
}
