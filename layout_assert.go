package mwcas

import (
	"math/bits"
	"unsafe"
)

// The descriptor tag occupies bit 63; the package requires 64-bit words.
var _ [bits.UintSize - 64]byte

const (
	wordDescriptorSize = 4 * wordSize
	descriptorSize     = cacheLineSize + Capacity*wordDescriptorSize
)

var _ [wordDescriptorSize - int(unsafe.Sizeof(wordDescriptor{}))]byte
var _ [int(unsafe.Sizeof(wordDescriptor{})) - wordDescriptorSize]byte

var _ [descriptorSize - int(unsafe.Sizeof(Descriptor{}))]byte
var _ [int(unsafe.Sizeof(Descriptor{})) - descriptorSize]byte

var _ [wordSize - int(unsafe.Sizeof(Word{}))]byte
var _ [int(unsafe.Sizeof(Word{})) - wordSize]byte
