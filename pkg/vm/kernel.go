// Package vm implements the guppy vector kernel.
//
// A program is a flat stream of vector instructions (see package bytecode).
// A launch runs the program once per lane group. Each group owns a register
// file of scalar banks and vector registers of VectorWidth elements; the
// group's LanesPerGroup lanes are goroutines that all walk the same
// instruction stream and split every vector instruction into equal
// contiguous chunks, one per lane.
//
// Groups are independent. The host partitions the arrays between them through
// the RegGroupEltStart register (group_index * vector_width); the kernel does
// not enforce the partition.
//
// The kernel trusts its program. Unknown opcodes, out of range indices and
// inconsistent sizes are not detected at run time; Config.Verify runs the
// bytecode verifier on the host side before a launch.
package vm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fortiblox/guppy/pkg/vm/bytecode"
)

// Errors.
var (
	ErrKernelFault   = errors.New("kernel fault")
	ErrInvalidLaunch = errors.New("invalid launch")
)

// Kernel launches programs with a fixed configuration. It is safe for
// concurrent use.
type Kernel struct {
	cfg    Config
	totals totalsMeter

	// Logger receives one line per launch. Nil disables logging.
	Logger *log.Logger
}

// NewKernel validates cfg and returns a kernel.
func NewKernel(cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Kernel{cfg: cfg}, nil
}

// Config returns the kernel configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Totals returns cumulative counters over all launches.
func (k *Kernel) Totals() Totals {
	return k.totals.snapshot()
}

// Launch runs program on groups execution contexts over arrays, mutating the
// arrays in place. Group g starts with I[RegGroupIndex] = g.
//
// Launch checks ctx before starting each group; groups already running are
// never interrupted. The returned stats are valid even when err is not nil.
func (k *Kernel) Launch(ctx context.Context, program []byte, arrays [][]float32, groups int) (*LaunchStats, error) {
	if groups <= 0 {
		return nil, fmt.Errorf("%w: %d groups", ErrInvalidLaunch, groups)
	}
	if k.cfg.Verify {
		if _, err := bytecode.Verify(program, k.cfg.Limits(len(arrays))); err != nil {
			return nil, fmt.Errorf("verify program: %w", err)
		}
	}

	start := time.Now()
	var m meter
	var launched atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(k.cfg.concurrency())
	for gi := 0; gi < groups; gi++ {
		if egCtx.Err() != nil {
			break
		}
		gi := gi
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			launched.Add(1)
			if err := newGroup(&k.cfg, gi, program, arrays).run(&m); err != nil {
				return err
			}
			m.groups.Add(1)
			return nil
		})
	}
	err := eg.Wait()
	if err == nil && int(launched.Load()) < groups {
		err = ctx.Err()
	}

	stats := m.snapshot()
	stats.Duration = time.Since(start)
	k.totals.record(&stats, errors.Is(err, ErrKernelFault))

	if k.Logger != nil {
		k.Logger.Printf("[KERNEL] launch: groups=%d/%d instructions=%d elements=%d maps=%d elapsed=%s err=%v",
			stats.Groups, groups, stats.Instructions, stats.Elements, stats.MapCalls, stats.Duration, err)
	}
	return &stats, err
}

// Run launches program once with a throwaway kernel.
func Run(cfg Config, program []byte, arrays [][]float32, groups int) (*LaunchStats, error) {
	k, err := NewKernel(cfg)
	if err != nil {
		return nil, err
	}
	return k.Launch(context.Background(), program, arrays, groups)
}

// GroupsFor returns the number of groups needed to cover n elements with
// vectors of the given width.
func GroupsFor(n, width int) int {
	if n <= 0 || width <= 0 {
		return 0
	}
	return (n + width - 1) / width
}

// DefaultGroups returns the group count for a launch that steps through an
// n-element array one vector per group. n must be a positive multiple of
// width, since a group reading past the end of the array faults.
func DefaultGroups(n, width int) (int, error) {
	if n <= 0 || width <= 0 {
		return 0, fmt.Errorf("%w: cannot derive groups from %d elements", ErrInvalidLaunch, n)
	}
	if n%width != 0 {
		return 0, fmt.Errorf("%w: %d elements is not a multiple of the vector width %d", ErrInvalidLaunch, n, width)
	}
	return n / width, nil
}
