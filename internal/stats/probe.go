package stats

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Probe aggregates count, min, max and a running average of registered
// values. Implementations are chosen once at Registry construction: a real
// aggregator when statistics are enabled, a zero-cost no-op otherwise.
type Probe interface {
	// Register records value (typically elapsed milliseconds or a payload size).
	Register(value int64)
	Count() uint64
	Min() int64
	Max() int64
	Avg() float64
	// Info returns the four-line count/min/avg/max summary.
	Info() []string
}

type counter struct {
	v atomic.Uint64
}

func (c *counter) inc()          { c.v.Add(1) }
func (c *counter) value() uint64 { return c.v.Load() }

// probe is the enabled implementation. Each register is wait-free: min and
// max move by compare-and-swap, the average is folded in under the same
// counter advance that bumps count. Interleaved updates are not totally
// ordered against each other; the aggregate is eventually consistent.
type probe struct {
	count atomic.Uint64
	min   atomic.Int64
	max   atomic.Int64
	avg   atomic.Uint64 // float64 bits
}

func newProbe() *probe {
	p := &probe{}
	p.min.Store(math.MaxInt64)
	p.max.Store(math.MinInt64)
	return p
}

func (p *probe) Register(value int64) {
	count := p.count.Add(1)
	for {
		cur := p.min.Load()
		if value >= cur || p.min.CompareAndSwap(cur, value) {
			break
		}
	}
	for {
		cur := p.max.Load()
		if value <= cur || p.max.CompareAndSwap(cur, value) {
			break
		}
	}
	for {
		bits := p.avg.Load()
		avg := math.Float64frombits(bits)
		next := (avg*float64(count-1) + float64(value)) / float64(count)
		if p.avg.CompareAndSwap(bits, math.Float64bits(next)) {
			break
		}
	}
}

func (p *probe) Count() uint64 { return p.count.Load() }

func (p *probe) Min() int64 {
	if p.count.Load() == 0 {
		return 0
	}
	return p.min.Load()
}

func (p *probe) Max() int64 {
	if p.count.Load() == 0 {
		return 0
	}
	return p.max.Load()
}

func (p *probe) Avg() float64 { return math.Float64frombits(p.avg.Load()) }

func (p *probe) Info() []string {
	return []string{
		fmt.Sprintf("Count = %d", p.Count()),
		fmt.Sprintf("Min = %d", p.Min()),
		fmt.Sprintf("Avg = %.2f", p.Avg()),
		fmt.Sprintf("Max = %d", p.Max()),
	}
}

// noop discards everything.
type noop struct{}

func (noop) Register(int64) {}
func (noop) Count() uint64  { return 0 }
func (noop) Min() int64     { return 0 }
func (noop) Max() int64     { return 0 }
func (noop) Avg() float64   { return 0 }
func (noop) Info() []string {
	return []string{"Count = 0", "Min = 0", "Avg = 0.00", "Max = 0"}
}
