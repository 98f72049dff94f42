package vm

import (
	"fmt"
	"sync"

	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

// group is one execution context: a lane group with its register file,
// optional staging buffer and barrier.
type group struct {
	cfg     *Config
	index   int
	program []byte
	arrays  [][]float32
	regs    *RegisterFile
	barrier *Barrier
	staged  []byte

	// lockstep makes lanes meet after every top-level instruction. It is
	// required when scalars are shared so that the elected writer's result
	// is visible to every lane before the next instruction.
	lockstep bool

	// mapMu serialises Map/Map2 chunks when lanes share the calling
	// convention slots.
	mapMu sync.Mutex

	// endPC records where each lane's dispatch loop stopped.
	endPC []int
}

func newGroup(cfg *Config, index int, program []byte, arrays [][]float32) *group {
	g := &group{
		cfg:      cfg,
		index:    index,
		program:  program,
		arrays:   arrays,
		regs:     NewRegisterFile(cfg, index),
		barrier:  NewBarrier(cfg.LanesPerGroup),
		lockstep: cfg.SharedScalars,
		endPC:    make([]int, cfg.LanesPerGroup),
	}
	if cfg.PrefetchBytecode {
		g.staged = make([]byte, cfg.MaxProgramLength)
	}
	return g
}

// run starts every lane and waits for all of them. A panicking lane breaks
// the barrier and the first panic is returned as ErrKernelFault.
func (g *group) run(m *meter) error {
	var (
		wg    sync.WaitGroup
		once  sync.Once
		fault error
	)
	for id := 0; id < g.cfg.LanesPerGroup; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l := g.newLane(id)
			defer func() {
				if r := recover(); r != nil {
					g.barrier.Break()
					once.Do(func() {
						fault = fmt.Errorf("%w: group %d lane %d: %v", ErrKernelFault, g.index, id, r)
					})
				}
				m.add(&l.stats)
			}()
			l.run()
		}(id)
	}
	wg.Wait()
	return fault
}

// stage copies this lane's strided share of the program into the group
// buffer. The caller must pass the barrier before reading the result.
func (g *group) stage(lane int) []byte {
	n := len(g.program)
	for i := lane; i < n; i += g.cfg.LanesPerGroup {
		g.staged[i] = g.program[i]
	}
	return g.staged[:n]
}

// lane is one worker of a group. lo and hi bound the vector elements it
// owns.
type lane struct {
	g      *group
	id     int
	lo, hi int
	s      *Scalars
	writer bool
	stats  laneStats
}

func (g *group) newLane(id int) *lane {
	ops := g.cfg.OpsPerLane()
	return &lane{
		g:      g,
		id:     id,
		lo:     id * ops,
		hi:     (id + 1) * ops,
		s:      g.regs.Scalars.Lane(id),
		writer: !g.regs.Scalars.Shared() || id == 0,
	}
}

func (l *lane) run() {
	code := l.g.program
	if l.g.cfg.PrefetchBytecode {
		code = l.g.stage(l.id)
		if !l.g.barrier.Wait() {
			return
		}
	}
	l.g.endPC[l.id] = l.dispatch(code, false)
}

// dispatch runs code to completion and returns the final program counter.
// Nested dispatch runs a subprogram: only scalar opcodes execute and lanes
// never synchronise.
//
// Tags, sizes and operands are trusted. An unknown tag executes nothing and
// a size of zero never terminates.
func (l *lane) dispatch(code []byte, nested bool) int {
	pc := 0
	for pc < len(code) {
		tag, size := bytecode.Header(code[pc:])
		ins := code[pc : pc+size]
		pc += size

		if nested {
			l.scalar(tag, ins)
			l.stats.subInstructions++
			continue
		}

		l.execute(tag, ins)
		if l.id == 0 {
			l.stats.instructions++
		}
		if l.g.lockstep && !l.g.barrier.Wait() {
			break
		}
	}
	return pc
}

func (l *lane) execute(tag bytecode.Tag, ins []byte) {
	switch tag {
	case bytecode.OpLoadVector:
		l.loadVector(bytecode.DecodeLoadVector(ins))
	case bytecode.OpLoadVector2:
		l.loadVector2(bytecode.DecodeLoadVector2(ins))
	case bytecode.OpStoreVector:
		l.storeVector(bytecode.DecodeStoreVector(ins))
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul:
		l.vectorBinary(tag, bytecode.DecodeBinary(ins))
	case bytecode.OpIAdd:
		l.iadd(bytecode.DecodeIAdd(ins))
	case bytecode.OpMap:
		l.mapUnary(bytecode.DecodeMap(ins))
	case bytecode.OpMap2:
		l.mapBinary(bytecode.DecodeMap2(ins))
	case bytecode.OpConst, bytecode.OpSetInt, bytecode.OpAddInt:
		if l.writer {
			l.scalar(tag, ins)
		}
	}
}
