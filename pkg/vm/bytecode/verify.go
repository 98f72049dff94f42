package bytecode

import (
	"errors"
	"fmt"
)

// Verification errors.
var (
	ErrTruncated          = errors.New("truncated instruction")
	ErrBadSize            = errors.New("invalid instruction size")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrRegisterRange      = errors.New("register index out of range")
	ErrArrayRange         = errors.New("array index out of range")
	ErrNestedMap          = errors.New("map inside subprogram")
	ErrVectorInSubprogram = errors.New("vector instruction inside subprogram")
	ErrProgramTooLarge    = errors.New("program exceeds staging buffer")
)

// Limits bounds the indices a program may reference. Zero values disable the
// corresponding check.
type Limits struct {
	NumVecRegisters   int
	NumIntRegisters   int
	NumFloatRegisters int

	// NumArrays is the size of the launch's array table.
	NumArrays int

	// MaxProgramLength is the staging buffer size when prefetch is enabled.
	MaxProgramLength int
}

// Summary describes a verified program.
type Summary struct {
	// Instructions counts top-level instructions.
	Instructions int

	// SubInstructions counts instructions inside all subprograms.
	SubInstructions int

	// Maps counts Map and Map2 instructions.
	Maps int

	// Opcodes counts top-level instructions per opcode.
	Opcodes map[Tag]int
}

// Verify checks that program is well formed: every header fits, every size
// covers its operands, every index is within limits, subprograms hold only
// scalar opcodes, and the walk ends exactly at len(program). The empty
// program is valid and verifies to an empty summary.
//
// The kernel performs none of these checks at run time.
func Verify(program []byte, limits Limits) (*Summary, error) {
	if limits.MaxProgramLength > 0 && len(program) > limits.MaxProgramLength {
		return nil, fmt.Errorf("%w: %d bytes, buffer holds %d", ErrProgramTooLarge, len(program), limits.MaxProgramLength)
	}

	sum := &Summary{Opcodes: make(map[Tag]int)}
	v := verifier{limits: limits, sum: sum}
	if err := v.walk(program, false); err != nil {
		return nil, err
	}
	return sum, nil
}

type verifier struct {
	limits Limits
	sum    *Summary
}

func (v *verifier) walk(code []byte, nested bool) error {
	pc := 0
	for pc < len(code) {
		if len(code)-pc < HeaderSize {
			return fmt.Errorf("%w: header at pc %d", ErrTruncated, pc)
		}
		tag, size := Header(code[pc:])
		if !tag.Known() {
			return fmt.Errorf("%w: tag %d at pc %d", ErrUnknownOpcode, uint16(tag), pc)
		}
		if size < tag.minSize() {
			return fmt.Errorf("%w: %s at pc %d has size %d, need %d", ErrBadSize, tag, pc, size, tag.minSize())
		}
		if pc+size > len(code) {
			return fmt.Errorf("%w: %s at pc %d runs %d bytes past end", ErrTruncated, tag, pc, pc+size-len(code))
		}
		if err := v.check(code[pc:pc+size], nested); err != nil {
			return fmt.Errorf("%w (%s at pc %d)", err, tag, pc)
		}
		if nested {
			v.sum.SubInstructions++
		} else {
			v.sum.Instructions++
			v.sum.Opcodes[tag]++
		}
		pc += size
	}
	return nil
}

func (v *verifier) check(ins []byte, nested bool) error {
	tag, size := Header(ins)
	if nested && !tag.Scalar() {
		if tag == OpMap || tag == OpMap2 {
			return ErrNestedMap
		}
		return ErrVectorInSubprogram
	}
	if tag != OpMap && tag != OpMap2 && size != tag.minSize() {
		return fmt.Errorf("%w: fixed-size instruction has size %d", ErrBadSize, size)
	}

	switch tag {
	case OpLoadVector:
		op := DecodeLoadVector(ins)
		return firstErr(v.vecReg(op.Target), v.array(op.Array), v.intReg(op.StartReg), v.intReg(op.NeltsReg))
	case OpLoadVector2:
		op := DecodeLoadVector2(ins)
		return firstErr(v.vecReg(op.Target1), v.array(op.Array1), v.vecReg(op.Target2), v.array(op.Array2),
			v.intReg(op.StartReg), v.intReg(op.NeltsReg))
	case OpStoreVector:
		op := DecodeStoreVector(ins)
		return firstErr(v.vecReg(op.Source), v.array(op.Array), v.intReg(op.StartReg), v.intReg(op.NeltsReg))
	case OpAdd, OpSub, OpMul:
		op := DecodeBinary(ins)
		if nested {
			return firstErr(v.floatReg(op.Arg1), v.floatReg(op.Arg2), v.floatReg(op.Result))
		}
		return firstErr(v.vecReg(op.Arg1), v.vecReg(op.Arg2), v.vecReg(op.Result))
	case OpIAdd:
		op := DecodeIAdd(ins)
		return firstErr(v.vecReg(op.Arg), v.vecReg(op.Result))
	case OpMap:
		op := DecodeMap(ins)
		if err := firstErr(v.vecReg(op.Source), v.vecReg(op.Target), v.floatReg(op.InReg), v.floatReg(op.OutReg)); err != nil {
			return err
		}
		v.sum.Maps++
		return v.walk(op.Sub, true)
	case OpMap2:
		op := DecodeMap2(ins)
		if err := firstErr(v.vecReg(op.Source1), v.vecReg(op.Source2), v.vecReg(op.Target),
			v.floatReg(op.InReg1), v.floatReg(op.InReg2), v.floatReg(op.OutReg)); err != nil {
			return err
		}
		v.sum.Maps++
		return v.walk(op.Sub, true)
	case OpConst:
		return v.floatReg(DecodeConst(ins).Result)
	case OpSetInt:
		return v.intReg(DecodeSetInt(ins).Result)
	case OpAddInt:
		op := DecodeBinary(ins)
		return firstErr(v.intReg(op.Arg1), v.intReg(op.Arg2), v.intReg(op.Result))
	}
	return nil
}

func (v *verifier) vecReg(r uint16) error {
	return checkRange("vector", r, v.limits.NumVecRegisters, ErrRegisterRange)
}

func (v *verifier) intReg(r uint16) error {
	return checkRange("int", r, v.limits.NumIntRegisters, ErrRegisterRange)
}

func (v *verifier) floatReg(r uint16) error {
	return checkRange("float", r, v.limits.NumFloatRegisters, ErrRegisterRange)
}

func (v *verifier) array(a uint16) error {
	return checkRange("array", a, v.limits.NumArrays, ErrArrayRange)
}

func checkRange(kind string, idx uint16, limit int, sentinel error) error {
	if limit > 0 && int(idx) >= limit {
		return fmt.Errorf("%w: %s %d, have %d", sentinel, kind, idx, limit)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
