package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ream-rt/ream/process"
)

func TestAccountCPUEnforcesPeriodBudget(t *testing.T) {
	pid := process.NewPid()
	m := NewManager(Quota{}, true)
	m.SetQuota(pid, Quota{CPUPerPeriod: 10 * time.Millisecond, CPUPeriod: time.Second})

	require.NoError(t, m.AccountCPU(pid, 5*time.Millisecond))
	err := m.AccountCPU(pid, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, uint64(1), m.Snapshot(pid).Violations)
}

func TestAccountCPUObservationOnlyDoesNotReject(t *testing.T) {
	pid := process.NewPid()
	m := NewManager(Quota{CPUPerPeriod: time.Millisecond, CPUPeriod: time.Second}, false)

	err := m.AccountCPU(pid, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.Snapshot(pid).Violations)
}

func TestAccountMemoryRejectsOverCap(t *testing.T) {
	pid := process.NewPid()
	m := NewManager(Quota{MemoryBytes: 1024}, true)
	require.NoError(t, m.AccountMemory(pid, 512))
	require.ErrorIs(t, m.AccountMemory(pid, 2048), ErrQuotaExceeded)
}

func TestHandleQuotaBlocksPastLimit(t *testing.T) {
	pid := process.NewPid()
	m := NewManager(Quota{MaxHandles: 1}, true)

	require.NoError(t, m.AcquireHandle(context.Background(), pid))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.AcquireHandle(ctx, pid)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	m.ReleaseHandle(pid)
	require.NoError(t, m.AcquireHandle(context.Background(), pid))
}

func TestLoadBalancerRecommendsMigrationAboveThreshold(t *testing.T) {
	lb := NewLoadBalancer()
	lb.Report(0, CoreLoad{CPUUtilization: 0.9})
	lb.Report(1, CoreLoad{CPUUtilization: 0.1})

	recs := lb.Recommendations()
	require.Len(t, recs, 1)
	require.Equal(t, 0, recs[0].FromCore)
	require.Equal(t, 1, recs[0].ToCore)
}

func TestLoadBalancerNoRecommendationWithinThreshold(t *testing.T) {
	lb := NewLoadBalancer()
	lb.Report(0, CoreLoad{CPUUtilization: 0.5})
	lb.Report(1, CoreLoad{CPUUtilization: 0.4})
	require.Empty(t, lb.Recommendations())
}
