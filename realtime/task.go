// Package realtime overlays EDF/RM scheduling with priority inheritance
// on top of the plain fair scheduler, for processes explicitly
// registered as real-time (§4.6). Grounded on the pack's use of
// github.com/google/btree for ordered in-memory sets (the closest
// available analogue among the examples to an EDF/RM ready-set index)
// and on ergonode's process-record style for the task type.
package realtime

import (
	"time"

	"github.com/ream-rt/ream/process"
)

// Class distinguishes how a RealtimeTask's next deadline is derived.
type Class int

const (
	// Sporadic tasks are scheduled by EDF: absolute deadlines, no
	// fixed period, admission treats Period (their min-interarrival
	// time) as their period.
	Sporadic Class = iota
	// Periodic tasks are scheduled by Rate Monotonic: a fixed period,
	// static priority inversely proportional to it.
	Periodic
	// Aperiodic tasks carry no period and no utilization guarantee:
	// admission never rejects them and they contribute nothing to the
	// Liu-Layland/EDF bound, but they are still ordered into the ready
	// set by Deadline (if the caller sets one), alongside admitted
	// tasks: an aperiodic task with a nearer deadline is returned by
	// Next ahead of an admitted task with a later one (§4.6).
	Aperiodic
)

// RealtimeTask is one process registered with the overlay (§4.6, §3
// "ready tasks").
type RealtimeTask struct {
	Pid      process.Pid
	Class    Class
	WCET     time.Duration
	Period   time.Duration // for Periodic; for Sporadic, its min-interarrival
	Priority process.Priority

	// Deadline is the absolute deadline for the current instance. For
	// Periodic tasks it is recomputed each period from ReleaseTime.
	Deadline time.Time
	// ReleaseTime is when the current job became ready.
	ReleaseTime time.Time
	Completed   bool
}

// NextPeriodBoundary returns the end of the current period for a
// Periodic task, used by Hybrid mode to compare against a sporadic
// task's deadline (§4.6 "closer than the RM task's next period
// boundary").
func (t RealtimeTask) NextPeriodBoundary() time.Time {
	return t.ReleaseTime.Add(t.Period)
}

// Utilization is wcet/period, the term summed for admission control.
// Aperiodic tasks always report zero: they carry no period and are
// never subject to the utilization bound.
func (t RealtimeTask) Utilization() float64 {
	if t.Class == Aperiodic || t.Period <= 0 {
		return 0
	}
	return float64(t.WCET) / float64(t.Period)
}
