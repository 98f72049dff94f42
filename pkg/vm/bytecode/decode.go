package bytecode

import (
	"encoding/binary"
	"math"
)

// Decoders read operands from an instruction slice that starts at the
// header. They perform no validation: the kernel trusts its input and the
// host runs Verify beforehand.

// LoadVector copies nelts elements of an array into a vector register.
type LoadVector struct {
	Target   uint16
	Array    uint16
	StartReg uint16
	NeltsReg uint16
}

// LoadVector2 performs two LoadVector copies sharing start and count.
type LoadVector2 struct {
	Target1  uint16
	Array1   uint16
	Target2  uint16
	Array2   uint16
	StartReg uint16
	NeltsReg uint16
}

// StoreVector writes a vector register back into an array.
type StoreVector struct {
	Source   uint16
	Array    uint16
	StartReg uint16
	NeltsReg uint16
}

// Binary is the operand layout shared by Add, Sub, Mul and AddInt.
type Binary struct {
	Arg1   uint16
	Arg2   uint16
	Result uint16
}

// IAdd accumulates Arg into Result.
type IAdd struct {
	Arg    uint16
	Result uint16
}

// Map applies Sub to every element of Source.
type Map struct {
	Source uint16
	Target uint16
	InReg  uint16
	OutReg uint16
	Sub    []byte
}

// Map2 applies Sub to every element pair of Source1 and Source2.
type Map2 struct {
	Source1 uint16
	Source2 uint16
	Target  uint16
	InReg1  uint16
	InReg2  uint16
	OutReg  uint16
	Sub     []byte
}

// Const loads a float32 immediate into a float register.
type Const struct {
	Result uint16
	Value  float32
}

// SetInt loads an int32 immediate into an int register.
type SetInt struct {
	Result uint16
	Value  int32
}

// Header returns the tag and size of the instruction at the start of b.
func Header(b []byte) (Tag, int) {
	return Tag(binary.LittleEndian.Uint16(b)), int(binary.LittleEndian.Uint16(b[2:]))
}

func u16(b []byte, field int) uint16 {
	return binary.LittleEndian.Uint16(b[HeaderSize+2*field:])
}

// DecodeLoadVector decodes a LoadVector instruction.
func DecodeLoadVector(b []byte) LoadVector {
	return LoadVector{Target: u16(b, 0), Array: u16(b, 1), StartReg: u16(b, 2), NeltsReg: u16(b, 3)}
}

// DecodeLoadVector2 decodes a LoadVector2 instruction.
func DecodeLoadVector2(b []byte) LoadVector2 {
	return LoadVector2{
		Target1:  u16(b, 0),
		Array1:   u16(b, 1),
		Target2:  u16(b, 2),
		Array2:   u16(b, 3),
		StartReg: u16(b, 4),
		NeltsReg: u16(b, 5),
	}
}

// DecodeStoreVector decodes a StoreVector instruction.
func DecodeStoreVector(b []byte) StoreVector {
	return StoreVector{Source: u16(b, 0), Array: u16(b, 1), StartReg: u16(b, 2), NeltsReg: u16(b, 3)}
}

// DecodeBinary decodes Add, Sub, Mul and AddInt.
func DecodeBinary(b []byte) Binary {
	return Binary{Arg1: u16(b, 0), Arg2: u16(b, 1), Result: u16(b, 2)}
}

// DecodeIAdd decodes an IAdd instruction.
func DecodeIAdd(b []byte) IAdd {
	return IAdd{Arg: u16(b, 0), Result: u16(b, 1)}
}

// DecodeMap decodes a Map instruction. Sub aliases b.
func DecodeMap(b []byte) Map {
	_, size := Header(b)
	return Map{
		Source: u16(b, 0),
		Target: u16(b, 1),
		InReg:  u16(b, 2),
		OutReg: u16(b, 3),
		Sub:    b[SizeMap:size],
	}
}

// DecodeMap2 decodes a Map2 instruction. Sub aliases b.
func DecodeMap2(b []byte) Map2 {
	_, size := Header(b)
	return Map2{
		Source1: u16(b, 0),
		Source2: u16(b, 1),
		Target:  u16(b, 2),
		InReg1:  u16(b, 3),
		InReg2:  u16(b, 4),
		OutReg:  u16(b, 5),
		Sub:     b[SizeMap2:size],
	}
}

// DecodeConst decodes a Const instruction.
func DecodeConst(b []byte) Const {
	bits := binary.LittleEndian.Uint32(b[HeaderSize+2:])
	return Const{Result: u16(b, 0), Value: math.Float32frombits(bits)}
}

// DecodeSetInt decodes a SetInt instruction.
func DecodeSetInt(b []byte) SetInt {
	return SetInt{Result: u16(b, 0), Value: int32(binary.LittleEndian.Uint32(b[HeaderSize+2:]))}
}
