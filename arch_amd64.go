package inlinehook

// decodeMode is the x86asm decoding mode for this architecture.
const decodeMode = 64
