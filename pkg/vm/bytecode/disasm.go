package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders a program as one instruction per line, subprograms
// indented under their Map. The program must be well formed.
func Disassemble(program []byte) (string, error) {
	var sb strings.Builder
	if err := disasm(&sb, program, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func disasm(sb *strings.Builder, code []byte, depth int) error {
	indent := strings.Repeat("    ", depth)
	pc := 0
	for pc < len(code) {
		if len(code)-pc < HeaderSize {
			return fmt.Errorf("%w: header at pc %d", ErrTruncated, pc)
		}
		tag, size := Header(code[pc:])
		if size < tag.minSize() {
			return fmt.Errorf("%w: %s at pc %d has size %d", ErrBadSize, tag, pc, size)
		}
		if pc+size > len(code) {
			return fmt.Errorf("%w: %s at pc %d", ErrTruncated, tag, pc)
		}
		ins := code[pc : pc+size]
		fmt.Fprintf(sb, "%s%04x  %-12s", indent, pc, tag)

		switch tag {
		case OpLoadVector:
			op := DecodeLoadVector(ins)
			fmt.Fprintf(sb, "v%d <- a%d[i%d:+i%d]\n", op.Target, op.Array, op.StartReg, op.NeltsReg)
		case OpLoadVector2:
			op := DecodeLoadVector2(ins)
			fmt.Fprintf(sb, "v%d <- a%d, v%d <- a%d [i%d:+i%d]\n",
				op.Target1, op.Array1, op.Target2, op.Array2, op.StartReg, op.NeltsReg)
		case OpStoreVector:
			op := DecodeStoreVector(ins)
			fmt.Fprintf(sb, "a%d[i%d:+i%d] <- v%d\n", op.Array, op.StartReg, op.NeltsReg, op.Source)
		case OpAdd, OpSub, OpMul:
			op := DecodeBinary(ins)
			prefix := "v"
			if depth > 0 {
				prefix = "f"
			}
			fmt.Fprintf(sb, "%[1]s%[2]d, %[1]s%[3]d -> %[1]s%[4]d\n", prefix, op.Arg1, op.Arg2, op.Result)
		case OpIAdd:
			op := DecodeIAdd(ins)
			fmt.Fprintf(sb, "v%d += v%d\n", op.Result, op.Arg)
		case OpMap:
			op := DecodeMap(ins)
			fmt.Fprintf(sb, "v%d -> v%d (in f%d, out f%d)\n", op.Source, op.Target, op.InReg, op.OutReg)
			if err := disasm(sb, op.Sub, depth+1); err != nil {
				return err
			}
		case OpMap2:
			op := DecodeMap2(ins)
			fmt.Fprintf(sb, "v%d, v%d -> v%d (in f%d, f%d, out f%d)\n",
				op.Source1, op.Source2, op.Target, op.InReg1, op.InReg2, op.OutReg)
			if err := disasm(sb, op.Sub, depth+1); err != nil {
				return err
			}
		case OpConst:
			op := DecodeConst(ins)
			fmt.Fprintf(sb, "f%d = %g\n", op.Result, op.Value)
		case OpSetInt:
			op := DecodeSetInt(ins)
			fmt.Fprintf(sb, "i%d = %d\n", op.Result, op.Value)
		case OpAddInt:
			op := DecodeBinary(ins)
			fmt.Fprintf(sb, "i%d, i%d -> i%d\n", op.Arg1, op.Arg2, op.Result)
		default:
			fmt.Fprintf(sb, "(%d bytes)\n", size)
		}
		pc += size
	}
	return nil
}
