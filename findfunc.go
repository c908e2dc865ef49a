package inlinehook

import (
	"unsafe"
)

// funcInfo mirrors runtime.funcInfo. Only the module is used here.
type funcInfo struct {
	_func unsafe.Pointer
	datap *moduledata
}

func (f funcInfo) valid() bool {
	return f._func != nil
}

// moduledata mirrors the head of runtime.moduledata. It is written by the
// linker and must match cmd/link/internal/ld/symtab.go up to the last field
// declared here. Fields after etext are omitted.
type moduledata struct {
	pcHeader     unsafe.Pointer
	funcnametab  []byte
	cutab        []uint32
	filetab      []byte
	pctab        []byte
	pclntable    []byte
	ftab         []functab
	findfunctab  uintptr
	minpc, maxpc uintptr

	text, etext uintptr
}

type functab struct {
	entryoff uint32 // relative to runtime.text
	funcoff  uint32
}

//go:linkname findfunc runtime.findfunc
func findfunc(pc uintptr) funcInfo
