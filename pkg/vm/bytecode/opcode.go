// Package bytecode defines the guppy instruction encoding.
//
// A program is a flat byte buffer of variable-length instructions. Every
// instruction starts with a 4-byte header:
//
//	tag  uint16 LE  opcode
//	size uint16 LE  bytes to advance the program counter, header included
//
// The remaining bytes are opcode-specific operands. Register and array
// indices are uint16 LE. Map and Map2 embed their subprogram directly after
// their fixed operands; the instruction size covers the subprogram.
package bytecode

import "fmt"

// Tag identifies an opcode.
type Tag uint16

// Opcodes.
const (
	OpLoadVector  Tag = 1
	OpLoadVector2 Tag = 2
	OpStoreVector Tag = 3
	OpAdd         Tag = 4
	OpIAdd        Tag = 5
	OpMap         Tag = 6
	OpMap2        Tag = 7
	OpSub         Tag = 8
	OpMul         Tag = 9
	OpConst       Tag = 10
	OpSetInt      Tag = 11
	OpAddInt      Tag = 12
)

// HeaderSize is the size of the tag+size header.
const HeaderSize = 4

// MaxInstructionSize is the largest size a header can express.
const MaxInstructionSize = 0xFFFF

// Fixed instruction sizes. Map and Map2 sizes are minimums; the embedded
// subprogram follows.
const (
	SizeLoadVector  = HeaderSize + 4*2
	SizeLoadVector2 = HeaderSize + 6*2
	SizeStoreVector = HeaderSize + 4*2
	SizeBinary      = HeaderSize + 3*2 // Add, Sub, Mul, AddInt
	SizeIAdd        = HeaderSize + 2*2
	SizeMap         = HeaderSize + 4*2
	SizeMap2        = HeaderSize + 6*2
	SizeConst       = HeaderSize + 2 + 4
	SizeSetInt      = HeaderSize + 2 + 4
)

// Host-initialised int32 scalar slots.
const (
	RegGroupIndex    = 0 // linear index of the lane group
	RegVectorWidth   = 1 // configured vector width
	RegGroupEltStart = 2 // group_index * vector_width
)

// NumReservedIntRegs is the number of int32 slots the host initialises.
const NumReservedIntRegs = 3

var tagNames = map[Tag]string{
	OpLoadVector:  "LoadVector",
	OpLoadVector2: "LoadVector2",
	OpStoreVector: "StoreVector",
	OpAdd:         "Add",
	OpIAdd:        "IAdd",
	OpMap:         "Map",
	OpMap2:        "Map2",
	OpSub:         "Sub",
	OpMul:         "Mul",
	OpConst:       "Const",
	OpSetInt:      "SetInt",
	OpAddInt:      "AddInt",
}

// String returns the opcode mnemonic.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint16(t))
}

// Known reports whether t is part of the instruction set.
func (t Tag) Known() bool {
	_, ok := tagNames[t]
	return ok
}

// minSize returns the smallest valid size for an opcode.
func (t Tag) minSize() int {
	switch t {
	case OpLoadVector:
		return SizeLoadVector
	case OpLoadVector2:
		return SizeLoadVector2
	case OpStoreVector:
		return SizeStoreVector
	case OpAdd, OpSub, OpMul, OpAddInt:
		return SizeBinary
	case OpIAdd:
		return SizeIAdd
	case OpMap:
		return SizeMap
	case OpMap2:
		return SizeMap2
	case OpConst:
		return SizeConst
	case OpSetInt:
		return SizeSetInt
	default:
		return HeaderSize
	}
}

// Scalar reports whether the opcode is allowed inside a subprogram.
func (t Tag) Scalar() bool {
	switch t {
	case OpAdd, OpSub, OpMul, OpConst, OpSetInt, OpAddInt:
		return true
	default:
		return false
	}
}
