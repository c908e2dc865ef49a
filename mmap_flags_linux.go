package inlinehook

import "golang.org/x/sys/unix"

// Kernels older than 4.17 ignore MAP_FIXED_NOREPLACE and treat the address
// as a hint, which Allocate checks for.
const _MAP_FIXED_NOREPLACE = unix.MAP_FIXED_NOREPLACE

// The trampoline arena asks for memory in the low 2GB, where the text of a
// non-PIE executable lives.
const _MAP_32BIT = unix.MAP_32BIT
