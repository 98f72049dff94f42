package vm

import "github.com/fortiblox/guppy/pkg/vm/bytecode"

// Scalars is one copy of the four scalar register banks.
type Scalars struct {
	Int    []int32
	Long   []int64
	Float  []float32
	Double []float64
}

func newScalars(cfg *Config, group int) *Scalars {
	s := &Scalars{
		Int:    make([]int32, cfg.NumIntRegisters),
		Long:   make([]int64, cfg.NumLongRegisters),
		Float:  make([]float32, cfg.NumFloatRegisters),
		Double: make([]float64, cfg.NumDoubleRegisters),
	}
	s.Int[bytecode.RegGroupIndex] = int32(group)
	s.Int[bytecode.RegVectorWidth] = int32(cfg.VectorWidth)
	s.Int[bytecode.RegGroupEltStart] = int32(group * cfg.VectorWidth)
	return s
}

// ScalarPolicy decides how lanes of a group map onto scalar register copies.
type ScalarPolicy interface {
	// Lane returns the scalar registers lane reads and writes.
	Lane(lane int) *Scalars

	// Shared reports whether every lane sees the same copy.
	Shared() bool
}

type sharedScalars struct {
	s *Scalars
}

func (p sharedScalars) Lane(int) *Scalars { return p.s }
func (p sharedScalars) Shared() bool      { return true }

type privateScalars struct {
	lanes []*Scalars
}

func (p privateScalars) Lane(lane int) *Scalars { return p.lanes[lane] }
func (p privateScalars) Shared() bool           { return false }

// NewScalarPolicy allocates scalar registers for one group according to
// cfg.SharedScalars.
func NewScalarPolicy(cfg *Config, group int) ScalarPolicy {
	if cfg.SharedScalars {
		return sharedScalars{s: newScalars(cfg, group)}
	}
	lanes := make([]*Scalars, cfg.LanesPerGroup)
	for i := range lanes {
		lanes[i] = newScalars(cfg, group)
	}
	return privateScalars{lanes: lanes}
}

// RegisterFile is the state of one execution context. Vector registers are
// always shared by the lanes of the group; each lane touches only its own
// element range of them.
type RegisterFile struct {
	width   int
	backing []float32
	vectors [][]float32
	Scalars ScalarPolicy
}

// NewRegisterFile allocates the register file for the given group.
func NewRegisterFile(cfg *Config, group int) *RegisterFile {
	stride := cfg.VectorWidth + cfg.VectorPadding
	rf := &RegisterFile{
		width:   cfg.VectorWidth,
		backing: make([]float32, stride*cfg.NumVecRegisters),
		vectors: make([][]float32, cfg.NumVecRegisters),
		Scalars: NewScalarPolicy(cfg, group),
	}
	for i := range rf.vectors {
		rf.vectors[i] = rf.backing[i*stride : (i+1)*stride]
	}
	return rf
}

// Vector returns the logical [0, width) window of vector register i. The
// index is not checked.
func (rf *RegisterFile) Vector(i uint16) []float32 {
	return rf.vectors[i][:rf.width:rf.width]
}

// padded returns the full register including padding.
func (rf *RegisterFile) padded(i int) []float32 {
	return rf.vectors[i]
}
