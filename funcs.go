package inlinehook

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"
)

// ErrNotFunc is returned when a value that must be a function isn't one.
var ErrNotFunc = errors.New("not a function")

// funcval is the runtime representation of a func value.
type funcval struct {
	fn uintptr
}

// codeOf returns the entry address of fn.
func codeOf[T any](fn T) (uintptr, error) {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return 0, fmt.Errorf("%w, kind: %v", ErrNotFunc, fnv.Kind())
	}
	if fnv.IsNil() {
		return 0, fmt.Errorf("%w: nil", ErrNotFunc)
	}
	return fnv.Pointer(), nil
}

// mustCodeOf is codeOf for callers that already know T is a func type.
func mustCodeOf[T any](fn T) uintptr {
	code, err := codeOf(fn)
	if err != nil {
		panic(err)
	}
	return code
}

// funcOf converts the machine code at code into a func value of type T.
//
// This is the same trick as a cloned function: allocate a funcval that points
// at the code and convince Go that the pointer to it is a T.
func funcOf[T any](code uintptr) T {
	fv := &funcval{fn: code}
	p := unsafe.Pointer(fv)
	return *(*T)(unsafe.Pointer(&p))
}

// checkFuncType panics if T is not a func type. Hooks store T as a single
// code pointer so nothing else fits.
func checkFuncType[T any]() {
	if t := reflect.TypeFor[T](); t.Kind() != reflect.Func {
		panic(fmt.Sprintf("inlinehook: %v is not a func type", t))
	}
}

// funcSlice returns the machine code of the function at entry, including the
// padding up to the next function.
func funcSlice(entry uintptr) ([]byte, error) {
	info := findfunc(entry)
	if !info.valid() {
		return nil, fmt.Errorf("no function at %#x", entry)
	}

	// To find the length, look at the offsets of every function and find
	// the one that comes immediately after this one.
	funcOffset := uint32(entry - info.datap.text)
	length := uint32(info.datap.etext - entry)

	for _, ft := range info.datap.ftab {
		if ft.entryoff <= funcOffset {
			continue
		}

		if testLength := ft.entryoff - funcOffset; testLength < length {
			length = testLength
		}
	}

	return bytesAt(entry, int(length)), nil
}
