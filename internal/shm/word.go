package shm

import (
	"sync/atomic"
	"unsafe"
)

// Offsets handed to these helpers are always 8-byte aligned relative to a
// base that is itself 8-byte aligned (page-aligned for mmap, size-class
// aligned for heap slices).

func loadUint64(mem []byte, off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&mem[off])))
}

func storeUint64(mem []byte, off int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&mem[off])), v)
}

func addUint64(mem []byte, off int, delta uint64) uint64 {
	return atomic.AddUint64((*uint64)(unsafe.Pointer(&mem[off])), delta)
}

func casUint64(mem []byte, off int, old, v uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(&mem[off])), old, v)
}

func loadUint32(mem []byte, off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&mem[off])))
}

func storeUint32(mem []byte, off int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&mem[off])), v)
}

func align8(n int) int {
	return (n + 7) &^ 7
}
