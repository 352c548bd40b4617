package engine

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats counts the work done by passes. The batching factor, nodes per
// kernel launch, is the figure that shows whether batching pays off.
type Stats struct {
	Passes           int
	Nodes            int // computed nodes executed
	Levels           int
	KernelLaunches   int // forward steps
	BackwardLaunches int // backward steps
	MaxBatch         int // largest step
	CacheHits        int // requested nodes already materialized
	ForwardTime      time.Duration
	BackwardTime     time.Duration
}

// Add returns the field-wise sum of s and o (MaxBatch takes the maximum).
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Passes:           s.Passes + o.Passes,
		Nodes:            s.Nodes + o.Nodes,
		Levels:           s.Levels + o.Levels,
		KernelLaunches:   s.KernelLaunches + o.KernelLaunches,
		BackwardLaunches: s.BackwardLaunches + o.BackwardLaunches,
		MaxBatch:         max(s.MaxBatch, o.MaxBatch),
		CacheHits:        s.CacheHits + o.CacheHits,
		ForwardTime:      s.ForwardTime + o.ForwardTime,
		BackwardTime:     s.BackwardTime + o.BackwardTime,
	}
}

// BatchingFactor returns the average number of nodes per forward launch.
func (s Stats) BatchingFactor() float64 {
	if s.KernelLaunches == 0 {
		return 0
	}
	return float64(s.Nodes) / float64(s.KernelLaunches)
}

func (s Stats) String() string {
	return fmt.Sprintf("%s nodes in %s launches (%.1f nodes/launch, max batch %d), %s backward launches, forward %s, backward %s",
		humanize.Comma(int64(s.Nodes)), humanize.Comma(int64(s.KernelLaunches)), s.BatchingFactor(), s.MaxBatch,
		humanize.Comma(int64(s.BackwardLaunches)), s.ForwardTime.Round(time.Microsecond), s.BackwardTime.Round(time.Microsecond))
}
