package vm

import "github.com/fortiblox/guppy/pkg/vm/bytecode"

// Every vector handler works on [l.lo, l.hi), the lane's fixed share of the
// vector. No lane reads or writes another lane's elements.

// count reads an element count register, clamped to the vector width when
// clamp is set. The result bounds the lane's range.
func (l *lane) count(reg uint16, clamp bool) int {
	n := int(l.s.Int[reg])
	if clamp && n > l.g.cfg.VectorWidth {
		n = l.g.cfg.VectorWidth
	}
	return min(l.hi, n)
}

func (l *lane) loadVector(op bytecode.LoadVector) {
	reg := l.g.regs.Vector(op.Target)
	src := l.g.arrays[op.Array]
	start := int(l.s.Int[op.StartReg])
	end := l.count(op.NeltsReg, l.g.cfg.CheckLoadBounds)
	if end <= l.lo {
		return
	}
	copy(reg[l.lo:end], src[start+l.lo:start+end])
	l.stats.elements += uint64(end - l.lo)
}

func (l *lane) loadVector2(op bytecode.LoadVector2) {
	reg1 := l.g.regs.Vector(op.Target1)
	src1 := l.g.arrays[op.Array1]
	reg2 := l.g.regs.Vector(op.Target2)
	src2 := l.g.arrays[op.Array2]
	start := int(l.s.Int[op.StartReg])
	end := l.count(op.NeltsReg, l.g.cfg.CheckLoadBounds)
	for i := l.lo; i < end; i++ {
		reg1[i] = src1[start+i]
		reg2[i] = src2[start+i]
	}
	if end > l.lo {
		l.stats.elements += 2 * uint64(end-l.lo)
	}
}

func (l *lane) storeVector(op bytecode.StoreVector) {
	reg := l.g.regs.Vector(op.Source)
	dst := l.g.arrays[op.Array]
	start := int(l.s.Int[op.StartReg])
	end := l.count(op.NeltsReg, l.g.cfg.CheckStoreBounds)
	if end <= l.lo {
		return
	}
	copy(dst[start+l.lo:start+end], reg[l.lo:end])
	l.stats.elements += uint64(end - l.lo)
}

func (l *lane) vectorBinary(tag bytecode.Tag, op bytecode.Binary) {
	a := l.g.regs.Vector(op.Arg1)
	b := l.g.regs.Vector(op.Arg2)
	c := l.g.regs.Vector(op.Result)
	switch tag {
	case bytecode.OpAdd:
		for i := l.lo; i < l.hi; i++ {
			c[i] = a[i] + b[i]
		}
	case bytecode.OpSub:
		for i := l.lo; i < l.hi; i++ {
			c[i] = a[i] - b[i]
		}
	case bytecode.OpMul:
		for i := l.lo; i < l.hi; i++ {
			c[i] = a[i] * b[i]
		}
	}
	l.stats.elements += uint64(l.hi - l.lo)
}

func (l *lane) iadd(op bytecode.IAdd) {
	a := l.g.regs.Vector(op.Arg)
	b := l.g.regs.Vector(op.Result)
	for i := l.lo; i < l.hi; i++ {
		b[i] += a[i]
	}
	l.stats.elements += uint64(l.hi - l.lo)
}

// mapUnary runs the subprogram once per owned element: the element goes into
// F[InReg], the result comes back from F[OutReg] into the target register
// at the same index.
func (l *lane) mapUnary(op bytecode.Map) {
	src := l.g.regs.Vector(op.Source)
	dst := l.g.regs.Vector(op.Target)
	if !l.g.regs.Scalars.Shared() {
		l.mapChunk(src, nil, dst, op.InReg, 0, op.OutReg, op.Sub)
		return
	}
	l.g.mapMu.Lock()
	defer l.g.mapMu.Unlock()
	l.mapChunk(src, nil, dst, op.InReg, 0, op.OutReg, op.Sub)
}

func (l *lane) mapBinary(op bytecode.Map2) {
	src1 := l.g.regs.Vector(op.Source1)
	src2 := l.g.regs.Vector(op.Source2)
	dst := l.g.regs.Vector(op.Target)
	if !l.g.regs.Scalars.Shared() {
		l.mapChunk(src1, src2, dst, op.InReg1, op.InReg2, op.OutReg, op.Sub)
		return
	}
	l.g.mapMu.Lock()
	defer l.g.mapMu.Unlock()
	l.mapChunk(src1, src2, dst, op.InReg1, op.InReg2, op.OutReg, op.Sub)
}

// mapChunk is the shared body of Map and Map2; src2 is nil for Map.
func (l *lane) mapChunk(src1, src2, dst []float32, in1, in2, out uint16, sub []byte) {
	f := l.s.Float
	for i := l.lo; i < l.hi; i++ {
		f[in1] = src1[i]
		if src2 != nil {
			f[in2] = src2[i]
		}
		l.dispatch(sub, true)
		dst[i] = f[out]
	}
	n := uint64(l.hi - l.lo)
	l.stats.mapCalls += n
	l.stats.elements += n
}

// scalar executes a lane-independent scalar opcode. Inside a subprogram Add,
// Sub and Mul operate on float registers.
func (l *lane) scalar(tag bytecode.Tag, ins []byte) {
	f := l.s.Float
	switch tag {
	case bytecode.OpAdd:
		op := bytecode.DecodeBinary(ins)
		f[op.Result] = f[op.Arg1] + f[op.Arg2]
	case bytecode.OpSub:
		op := bytecode.DecodeBinary(ins)
		f[op.Result] = f[op.Arg1] - f[op.Arg2]
	case bytecode.OpMul:
		op := bytecode.DecodeBinary(ins)
		f[op.Result] = f[op.Arg1] * f[op.Arg2]
	case bytecode.OpConst:
		op := bytecode.DecodeConst(ins)
		f[op.Result] = op.Value
	case bytecode.OpSetInt:
		op := bytecode.DecodeSetInt(ins)
		l.s.Int[op.Result] = op.Value
	case bytecode.OpAddInt:
		op := bytecode.DecodeBinary(ins)
		l.s.Int[op.Result] = l.s.Int[op.Arg1] + l.s.Int[op.Arg2]
	}
}
