package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Builder assembles a program instruction by instruction. The first
// encoding error sticks and is reported by Program.
type Builder struct {
	buf []byte
	err error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Program returns the encoded bytes.
func (b *Builder) Program() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out, nil
}

// MustProgram is like Program but panics on error. Intended for tests and
// static programs.
func (b *Builder) MustProgram() []byte {
	p, err := b.Program()
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of bytes encoded so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Raw appends pre-encoded bytes verbatim.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

func (b *Builder) emit(tag Tag, tail []byte, fields ...uint16) *Builder {
	size := HeaderSize + 2*len(fields) + len(tail)
	if size > MaxInstructionSize {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %s is %d bytes", ErrBadSize, tag, size)
		}
		return b
	}
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(tag))
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(size))
	for _, f := range fields {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, f)
	}
	b.buf = append(b.buf, tail...)
	return b
}

// LoadVector encodes reg[target] = arrays[array][I[startReg]:][:I[neltsReg]].
func (b *Builder) LoadVector(target, array, startReg, neltsReg uint16) *Builder {
	return b.emit(OpLoadVector, nil, target, array, startReg, neltsReg)
}

// LoadVector2 encodes two loads sharing one start and count.
func (b *Builder) LoadVector2(target1, array1, target2, array2, startReg, neltsReg uint16) *Builder {
	return b.emit(OpLoadVector2, nil, target1, array1, target2, array2, startReg, neltsReg)
}

// StoreVector encodes arrays[array][I[startReg]:][:I[neltsReg]] = reg[source].
func (b *Builder) StoreVector(source, array, startReg, neltsReg uint16) *Builder {
	return b.emit(OpStoreVector, nil, source, array, startReg, neltsReg)
}

// Add encodes result = arg1 + arg2.
func (b *Builder) Add(arg1, arg2, result uint16) *Builder {
	return b.emit(OpAdd, nil, arg1, arg2, result)
}

// Sub encodes result = arg1 - arg2.
func (b *Builder) Sub(arg1, arg2, result uint16) *Builder {
	return b.emit(OpSub, nil, arg1, arg2, result)
}

// Mul encodes result = arg1 * arg2.
func (b *Builder) Mul(arg1, arg2, result uint16) *Builder {
	return b.emit(OpMul, nil, arg1, arg2, result)
}

// IAdd encodes result += arg.
func (b *Builder) IAdd(arg, result uint16) *Builder {
	return b.emit(OpIAdd, nil, arg, result)
}

// Map encodes target[i] = sub(source[i]) with the element passed in float
// register inReg and the result read from outReg.
func (b *Builder) Map(source, target, inReg, outReg uint16, sub []byte) *Builder {
	return b.emit(OpMap, sub, source, target, inReg, outReg)
}

// Map2 encodes target[i] = sub(source1[i], source2[i]).
func (b *Builder) Map2(source1, source2, target, inReg1, inReg2, outReg uint16, sub []byte) *Builder {
	return b.emit(OpMap2, sub, source1, source2, target, inReg1, inReg2, outReg)
}

// Const encodes F[result] = value.
func (b *Builder) Const(result uint16, value float32) *Builder {
	return b.emit(OpConst, binary.LittleEndian.AppendUint32(nil, math.Float32bits(value)), result)
}

// SetInt encodes I[result] = value.
func (b *Builder) SetInt(result uint16, value int32) *Builder {
	return b.emit(OpSetInt, binary.LittleEndian.AppendUint32(nil, uint32(value)), result)
}

// AddInt encodes I[result] = I[arg1] + I[arg2].
func (b *Builder) AddInt(arg1, arg2, result uint16) *Builder {
	return b.emit(OpAddInt, nil, arg1, arg2, result)
}
