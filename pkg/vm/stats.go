package vm

import (
	"sync/atomic"
	"time"
)

// laneStats is counted locally by one lane and merged into a meter when the
// lane finishes, so the dispatch loop never touches shared counters.
type laneStats struct {
	instructions    uint64
	subInstructions uint64
	elements        uint64
	mapCalls        uint64
}

// meter accumulates lane counters across goroutines.
type meter struct {
	groups          atomic.Uint64
	instructions    atomic.Uint64
	subInstructions atomic.Uint64
	elements        atomic.Uint64
	mapCalls        atomic.Uint64
}

func (m *meter) add(s *laneStats) {
	m.instructions.Add(s.instructions)
	m.subInstructions.Add(s.subInstructions)
	m.elements.Add(s.elements)
	m.mapCalls.Add(s.mapCalls)
}

// LaunchStats summarises one launch.
type LaunchStats struct {
	// Groups is the number of execution contexts that ran to completion.
	Groups uint64 `json:"groups"`

	// Instructions counts top-level instructions, once per group.
	Instructions uint64 `json:"instructions"`

	// SubInstructions counts subprogram instructions across all lanes.
	SubInstructions uint64 `json:"subInstructions"`

	// Elements counts vector elements processed across all lanes.
	Elements uint64 `json:"elements"`

	// MapCalls counts subprogram invocations across all lanes.
	MapCalls uint64 `json:"mapCalls"`

	// Duration is the wall-clock time of the launch.
	Duration time.Duration `json:"duration"`
}

func (m *meter) snapshot() LaunchStats {
	return LaunchStats{
		Groups:          m.groups.Load(),
		Instructions:    m.instructions.Load(),
		SubInstructions: m.subInstructions.Load(),
		Elements:        m.elements.Load(),
		MapCalls:        m.mapCalls.Load(),
	}
}

// Totals are cumulative counters over the lifetime of a Kernel.
type Totals struct {
	Launches        uint64        `json:"launches"`
	Faults          uint64        `json:"faults"`
	Groups          uint64        `json:"groups"`
	Instructions    uint64        `json:"instructions"`
	SubInstructions uint64        `json:"subInstructions"`
	Elements        uint64        `json:"elements"`
	MapCalls        uint64        `json:"mapCalls"`
	Busy            time.Duration `json:"busy"`
}

type totalsMeter struct {
	launches atomic.Uint64
	faults   atomic.Uint64
	busy     atomic.Int64
	meter
}

func (t *totalsMeter) record(s *LaunchStats, faulted bool) {
	t.launches.Add(1)
	if faulted {
		t.faults.Add(1)
	}
	t.busy.Add(int64(s.Duration))
	t.groups.Add(s.Groups)
	t.instructions.Add(s.Instructions)
	t.subInstructions.Add(s.SubInstructions)
	t.elements.Add(s.Elements)
	t.mapCalls.Add(s.MapCalls)
}

func (t *totalsMeter) snapshot() Totals {
	s := t.meter.snapshot()
	return Totals{
		Launches:        t.launches.Load(),
		Faults:          t.faults.Load(),
		Groups:          s.Groups,
		Instructions:    s.Instructions,
		SubInstructions: s.SubInstructions,
		Elements:        s.Elements,
		MapCalls:        s.MapCalls,
		Busy:            time.Duration(t.busy.Load()),
	}
}
