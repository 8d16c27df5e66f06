package test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// AssertNoOverlap checks that a and b hold the same bytes but DO NOT share
// any memory.
func AssertNoOverlap(t *testing.T, a, b []byte) bool {
	t.Helper()
	if !assert.Equal(t, a, b) {
		return false
	}
	if len(a) == 0 || len(b) == 0 {
		return true
	}

	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	aEnd := aStart + uintptr(len(a))
	bEnd := bStart + uintptr(len(b))
	return assert.False(t, aStart < bEnd && bStart < aEnd,
		"slices overlap: [%#x, %#x) and [%#x, %#x)", aStart, aEnd, bStart, bEnd)
}
