package inlinehook

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-hotfix/assembly"
)

// ErrSymbolNotFound is returned when a function name isn't in the
// executable's debug information.
var ErrSymbolNotFound = errors.New("symbol not found")

// Symbol is a function found in the executable's DWARF data.
type Symbol struct {
	Name  string
	Entry uintptr
	Size  int
}

var (
	dwarfOnce sync.Once
	dwarf     assembly.DwarfAssembly
	dwarfErr  error
)

// loadDwarf reads the running executable's debug information once. Binaries
// built with -ldflags=-w have none and every lookup fails.
func loadDwarf() (assembly.DwarfAssembly, error) {
	dwarfOnce.Do(func() {
		dwarf, dwarfErr = assembly.NewDwarfAssembly()
		if dwarfErr != nil {
			dwarfErr = fmt.Errorf("loading debug info: %w", dwarfErr)
		}
	})
	return dwarf, dwarfErr
}

// Lookup finds a function by its fully qualified name, such as
// "main.square" or "example/data.(*DataType).String". This reaches
// unexported functions that can't be referred to directly.
func Lookup(name string) (Symbol, error) {
	asm, err := loadDwarf()
	if err != nil {
		return Symbol{}, err
	}

	fn, err := asm.FindFuncEntry(name)
	if err != nil {
		return Symbol{}, fmt.Errorf("%w: %s: %v", ErrSymbolNotFound, name, err)
	}
	return Symbol{
		Name:  name,
		Entry: uintptr(fn.Entry),
		Size:  int(fn.End - fn.Entry),
	}, nil
}

// Symbols returns the names of all functions that start with prefix.
func Symbols(prefix string) ([]string, error) {
	asm, err := loadDwarf()
	if err != nil {
		return nil, err
	}

	var names []string
	asm.ForeachFunc(func(name string, pc uint64) bool {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return true
	})
	return names, nil
}

// LookupFunc finds a function by name and returns it as a T, which can be
// passed to Hook. The caller is responsible for T matching the function's
// real signature.
func LookupFunc[T any](name string) (T, error) {
	checkFuncType[T]()

	sym, err := Lookup(name)
	if err != nil {
		var zero T
		return zero, err
	}
	if sym.Size < JumpSize {
		var zero T
		return zero, fmt.Errorf("%s is %d bytes, too short to hook", name, sym.Size)
	}

	debugf("found %s at %#x, %d bytes", name, sym.Entry, sym.Size)
	return funcOf[T](sym.Entry), nil
}
