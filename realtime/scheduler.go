package realtime

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/ream-rt/ream/process"
)

// Discipline selects which base algorithm (or their combination)
// governs Next (§4.6).
type Discipline int

const (
	EDF Discipline = iota
	RateMonotonic
	Hybrid
)

// ErrAdmissionRejected is returned when adding a task would push total
// utilization past the applicable bound (§4.6 "Admission control").
var ErrAdmissionRejected = errors.New("realtime: admission rejected: utilization exceeds bound")

// MissedDeadlineHook is invoked once per detected miss (§4.6 "Deadline
// miss detection"). The scheduler does not abort the task.
type MissedDeadlineHook func(task RealtimeTask)

// Scheduler is the EDF/RM/Hybrid overlay. It does not run processes
// itself — it orders the ready set so a caller of Next knows which
// real-time task to run next. The work-stealing scheduler in package
// scheduler does not consult it.
type Scheduler struct {
	discipline Discipline
	onMiss     MissedDeadlineHook

	mu       sync.Mutex
	tasks    map[process.Pid]*RealtimeTask
	ready    *btree.BTree // of *edfItem, ordered by deadline/priority/pid
	missed   map[process.Pid]uint64
}

// New constructs a Scheduler for discipline. onMiss may be nil.
func New(discipline Discipline, onMiss MissedDeadlineHook) *Scheduler {
	return &Scheduler{
		discipline: discipline,
		onMiss:     onMiss,
		tasks:      make(map[process.Pid]*RealtimeTask),
		ready:      btree.New(32),
		missed:     make(map[process.Pid]uint64),
	}
}

// edfItem orders RealtimeTasks for the btree ready set by the active
// discipline's key (§4.6 EDF/RM tie-break rules).
type edfItem struct {
	task *RealtimeTask
	disc Discipline
}

func (a edfItem) Less(than btree.Item) bool {
	b := than.(edfItem)
	ak, bk := a.key(), b.key()
	if !ak.Equal(bk) {
		return ak.Before(bk)
	}
	if a.disc == Hybrid && (a.task.Class == Periodic) != (b.task.Class == Periodic) {
		// Hybrid: a non-periodic task wins an exact tie over a periodic one.
		return b.task.Class == Periodic
	}
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	return a.task.Pid.String() < b.task.Pid.String()
}

// key returns the time used to order this task under the active
// discipline. Under RateMonotonic a Periodic task is keyed by its
// period length (periodRank), so shorter periods sort first. Under
// Hybrid a Periodic task is keyed by its next period boundary and a
// non-periodic task (Sporadic or Aperiodic) by its deadline, so the
// non-periodic task sorts first when its deadline is nearer; Less
// gives it exact ties too (§4.6 Hybrid, §9 Open Question). Sporadic
// and Aperiodic tasks carry no period, so a pure RateMonotonic
// discipline also falls back to ordering them by Deadline.
func (a edfItem) key() time.Time {
	t := a.task
	switch a.disc {
	case RateMonotonic:
		if t.Class == Periodic {
			return periodRank(t.Period)
		}
		return t.Deadline
	case Hybrid:
		if t.Class != Periodic {
			return t.Deadline
		}
		return t.NextPeriodBoundary()
	default: // EDF
		return t.Deadline
	}
}

// periodRank maps a period to a synthetic time so that shorter periods
// sort earlier (higher static RM priority), without needing a
// second comparator axis in the btree key.
func periodRank(period time.Duration) time.Time {
	return time.Unix(0, int64(period))
}

// Add admits a new real-time task if utilization stays within the
// applicable bound, and places it on the ready set.
func (s *Scheduler) Add(task RealtimeTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.admit(task); err != nil {
		return err
	}
	stored := task
	s.tasks[task.Pid] = &stored
	s.ready.ReplaceOrInsert(edfItem{task: &stored, disc: s.discipline})
	return nil
}

// admit applies Liu-Layland (RM) or U<=1.0 (EDF) admission control
// over the hypothetical utilization including task (§4.6). Aperiodic
// tasks carry no utilization guarantee and are always admitted.
func (s *Scheduler) admit(task RealtimeTask) error {
	if task.Class == Aperiodic {
		return nil
	}
	total := task.Utilization()
	for _, t := range s.tasks {
		total += t.Utilization()
	}

	switch s.effectiveDiscipline(task) {
	case RateMonotonic:
		n := len(s.tasks) + 1
		bound := float64(n) * (math.Pow(2, 1.0/float64(n)) - 1)
		if total > bound {
			return ErrAdmissionRejected
		}
	default: // EDF, and sporadic tasks under Hybrid
		if total > 1.0 {
			return ErrAdmissionRejected
		}
	}
	return nil
}

func (s *Scheduler) effectiveDiscipline(task RealtimeTask) Discipline {
	if s.discipline == Hybrid {
		if task.Class == Sporadic {
			return EDF
		}
		return RateMonotonic
	}
	return s.discipline
}

// Remove takes a task off the ready set entirely (e.g. the process exited).
func (s *Scheduler) Remove(pid process.Pid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	if !ok {
		return
	}
	s.ready.Delete(edfItem{task: t, disc: s.discipline})
	delete(s.tasks, pid)
}

// Next pops and returns the highest-priority ready task under the
// active discipline, or ok=false if the ready set is empty.
func (s *Scheduler) Next() (RealtimeTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.ready.Min()
	if item == nil {
		return RealtimeTask{}, false
	}
	edf := item.(edfItem)
	s.ready.Delete(edf)
	return *edf.task, true
}

// Requeue places task back on the ready set, e.g. after it completes
// one quantum but has more work before its deadline, or a periodic
// task's next instance is released.
func (s *Scheduler) Requeue(task RealtimeTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tasks[task.Pid]
	if !ok {
		stored = &RealtimeTask{}
		s.tasks[task.Pid] = stored
	}
	*stored = task
	s.ready.ReplaceOrInsert(edfItem{task: stored, disc: s.discipline})
}

// CheckDeadlines scans all known tasks for those whose deadline has
// passed without completion, firing onMiss once per miss and
// incrementing that task's miss counter (§4.6 "Deadline miss
// detection"). It never removes or aborts the task.
func (s *Scheduler) CheckDeadlines(now time.Time) {
	s.mu.Lock()
	var misses []RealtimeTask
	for _, t := range s.tasks {
		if !t.Completed && now.After(t.Deadline) {
			s.missed[t.Pid]++
			misses = append(misses, *t)
		}
	}
	s.mu.Unlock()

	if s.onMiss == nil {
		return
	}
	for _, t := range misses {
		s.onMiss(t)
	}
}

// MissedCount reports how many deadline misses have been recorded for pid.
func (s *Scheduler) MissedCount(pid process.Pid) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missed[pid]
}
