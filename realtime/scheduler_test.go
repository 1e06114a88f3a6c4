package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ream-rt/ream/process"
)

func TestEDFPicksNearestDeadline(t *testing.T) {
	s := New(EDF, nil)
	now := time.Now()

	far := RealtimeTask{Pid: process.NewPid(), Class: Sporadic, WCET: time.Millisecond, Period: 100 * time.Millisecond, Deadline: now.Add(50 * time.Millisecond)}
	near := RealtimeTask{Pid: process.NewPid(), Class: Sporadic, WCET: time.Millisecond, Period: 100 * time.Millisecond, Deadline: now.Add(10 * time.Millisecond)}

	require.NoError(t, s.Add(far))
	require.NoError(t, s.Add(near))

	next, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, near.Pid, next.Pid)
}

func TestRateMonotonicPrefersShorterPeriod(t *testing.T) {
	s := New(RateMonotonic, nil)
	now := time.Now()

	slow := RealtimeTask{Pid: process.NewPid(), Class: Periodic, WCET: time.Millisecond, Period: 200 * time.Millisecond, ReleaseTime: now}
	fast := RealtimeTask{Pid: process.NewPid(), Class: Periodic, WCET: time.Millisecond, Period: 20 * time.Millisecond, ReleaseTime: now}

	require.NoError(t, s.Add(slow))
	require.NoError(t, s.Add(fast))

	next, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, fast.Pid, next.Pid)
}

func TestHybridSporadicWinsTieOverPeriodic(t *testing.T) {
	s := New(Hybrid, nil)
	now := time.Now()

	periodic := RealtimeTask{Pid: process.NewPid(), Class: Periodic, WCET: time.Millisecond, Period: 50 * time.Millisecond, ReleaseTime: now}
	sporadic := RealtimeTask{Pid: process.NewPid(), Class: Sporadic, WCET: time.Millisecond, Period: 200 * time.Millisecond, Deadline: now.Add(50 * time.Millisecond)}

	require.NoError(t, s.Add(periodic))
	require.NoError(t, s.Add(sporadic))

	next, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, sporadic.Pid, next.Pid)
}

func TestAdmissionRejectsEDFOverutilization(t *testing.T) {
	s := New(EDF, nil)
	require.NoError(t, s.Add(RealtimeTask{Pid: process.NewPid(), Class: Sporadic, WCET: 60 * time.Millisecond, Period: 100 * time.Millisecond, Deadline: time.Now().Add(time.Second)}))
	err := s.Add(RealtimeTask{Pid: process.NewPid(), Class: Sporadic, WCET: 60 * time.Millisecond, Period: 100 * time.Millisecond, Deadline: time.Now().Add(time.Second)})
	require.ErrorIs(t, err, ErrAdmissionRejected)
}

func TestAdmissionRejectsRMOverLiuLaylandBound(t *testing.T) {
	s := New(RateMonotonic, nil)
	now := time.Now()
	// Two tasks each at u=0.5 sum to 1.0, which exceeds the 2-task
	// Liu-Layland bound of 2*(2^0.5 - 1) ≈ 0.828.
	require.NoError(t, s.Add(RealtimeTask{Pid: process.NewPid(), Class: Periodic, WCET: 50 * time.Millisecond, Period: 100 * time.Millisecond, ReleaseTime: now}))
	err := s.Add(RealtimeTask{Pid: process.NewPid(), Class: Periodic, WCET: 50 * time.Millisecond, Period: 100 * time.Millisecond, ReleaseTime: now})
	require.ErrorIs(t, err, ErrAdmissionRejected)
}

func TestDeadlineMissIncrementsCounterAndFiresHook(t *testing.T) {
	var fired int
	s := New(EDF, func(task RealtimeTask) { fired++ })
	pid := process.NewPid()
	require.NoError(t, s.Add(RealtimeTask{Pid: pid, Class: Sporadic, WCET: time.Millisecond, Period: time.Second, Deadline: time.Now().Add(-time.Millisecond)}))

	s.CheckDeadlines(time.Now())

	require.Equal(t, 1, fired)
	require.Equal(t, uint64(1), s.MissedCount(pid))
}

func TestAperiodicTasksAreAlwaysAdmittedAndOrderedByDeadline(t *testing.T) {
	s := New(EDF, nil)
	now := time.Now()

	// Saturate the EDF bound with a hard sporadic task.
	require.NoError(t, s.Add(RealtimeTask{Pid: process.NewPid(), Class: Sporadic, WCET: 90 * time.Millisecond, Period: 100 * time.Millisecond, Deadline: now.Add(time.Second)}))

	best := RealtimeTask{Pid: process.NewPid(), Class: Aperiodic, Deadline: now.Add(5 * time.Millisecond)}
	other := RealtimeTask{Pid: process.NewPid(), Class: Aperiodic, Deadline: now.Add(time.Hour)}
	require.NoError(t, s.Add(best), "aperiodic tasks bypass the utilization bound")
	require.NoError(t, s.Add(other))

	first, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, best.Pid, first.Pid, "nearer-deadline aperiodic task runs first")
}

func TestPriorityInheritanceRaisesHolderEffectivePriority(t *testing.T) {
	r := NewResource("lock")
	low := process.NewPid()
	high := process.NewPid()

	readyLow := r.Acquire(low, process.Low)
	<-readyLow
	require.Equal(t, process.Low, r.EffectivePriority())

	readyHigh := r.Acquire(high, process.High)
	select {
	case <-readyHigh:
		t.Fatal("high-priority waiter should not acquire immediately")
	default:
	}
	require.Equal(t, process.High, r.EffectivePriority(), "holder inherits the waiter's higher priority")

	r.Release(low)
	select {
	case <-readyHigh:
	default:
		t.Fatal("waiter should acquire once the holder releases")
	}
	holder, ok := r.Holder()
	require.True(t, ok)
	require.Equal(t, high, holder)
}
