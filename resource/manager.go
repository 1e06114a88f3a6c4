// Package resource accounts for each process's consumption of CPU,
// memory, handles, and bandwidth, and enforces per-process quotas
// (§4.7). Grounded on Mu-L-gvisor's use of golang.org/x/sync/semaphore
// for handle-count limiting and golang.org/x/time/rate for bandwidth
// ceilings — the same dependencies wired into the worker pool's
// lifecycle and handle quotas elsewhere in this module.
package resource

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ream-rt/ream/process"
)

// ErrQuotaExceeded is returned by an accounting update that would
// violate the subject process's quota while enforcement is active.
var ErrQuotaExceeded = errors.New("resource: quota exceeded")

// Quota bounds one process's resource consumption (§4.7). A zero field
// means "no limit for this dimension".
type Quota struct {
	MemoryBytes    uint64
	CPUPerPeriod   time.Duration
	CPUPeriod      time.Duration
	MaxHandles     int64
	BandwidthBytes float64 // bytes/sec, in and out combined
	SyscallsPerSec float64
}

// Usage is the live accounting snapshot for one process (§4.7).
type Usage struct {
	CPUTime        time.Duration
	MemoryBytes    uint64
	HandlesOpen    int64
	BytesSent      uint64
	BytesReceived  uint64
	BytesRead      uint64
	BytesWritten   uint64
	Syscalls       uint64
	Violations     uint64
}

type account struct {
	mu       sync.Mutex
	usage    Usage
	quota    Quota
	handles  *semaphore.Weighted
	bw       *rate.Limiter
	sys      *rate.Limiter
	cpuStart time.Time
	cpuUsed  time.Duration
}

func newAccount(quota Quota) *account {
	a := &account{quota: quota, cpuStart: time.Now()}
	if quota.MaxHandles > 0 {
		a.handles = semaphore.NewWeighted(quota.MaxHandles)
	}
	if quota.BandwidthBytes > 0 {
		a.bw = rate.NewLimiter(rate.Limit(quota.BandwidthBytes), int(quota.BandwidthBytes))
	}
	if quota.SyscallsPerSec > 0 {
		a.sys = rate.NewLimiter(rate.Limit(quota.SyscallsPerSec), int(quota.SyscallsPerSec))
	}
	return a
}

// Manager tracks per-process accounts against a default quota,
// optionally overridden per process (§4.7).
type Manager struct {
	mu         sync.RWMutex
	defaultQ   Quota
	accounts   map[process.Pid]*account
	enforce    bool
}

// NewManager constructs a Manager. When enforce is false, quota checks
// still run and still increment violation counters, but CPU, memory,
// bandwidth and syscall updates are not rejected (§4.7
// "observation-only"). The handle quota is applied either way:
// AcquireHandle waits for a free slot and returns ErrQuotaExceeded if
// ctx ends first, whatever enforce is.
func NewManager(defaultQuota Quota, enforce bool) *Manager {
	return &Manager{
		defaultQ: defaultQuota,
		accounts: make(map[process.Pid]*account),
		enforce:  enforce,
	}
}

func (m *Manager) accountFor(pid process.Pid) *account {
	m.mu.RLock()
	a, ok := m.accounts[pid]
	m.mu.RUnlock()
	if ok {
		return a
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok = m.accounts[pid]; ok {
		return a
	}
	a = newAccount(m.defaultQ)
	m.accounts[pid] = a
	return a
}

// SetQuota overrides pid's quota with q, replacing its prior account.
func (m *Manager) SetQuota(pid process.Pid, q Quota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[pid] = newAccount(q)
}

// Forget drops pid's account, e.g. once it has exited.
func (m *Manager) Forget(pid process.Pid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, pid)
}

// AccountCPU records d of CPU time against pid, rejecting (when
// enforcement is on) once the configured period's budget is spent.
func (m *Manager) AccountCPU(pid process.Pid, d time.Duration) error {
	a := m.accountFor(pid)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.quota.CPUPeriod > 0 && time.Since(a.cpuStart) > a.quota.CPUPeriod {
		a.cpuStart = time.Now()
		a.cpuUsed = 0
	}
	a.cpuUsed += d
	a.usage.CPUTime += d

	if a.quota.CPUPerPeriod > 0 && a.cpuUsed > a.quota.CPUPerPeriod {
		a.usage.Violations++
		if m.enforce {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// AccountMemory sets pid's current memory footprint to bytes,
// rejecting the update when it exceeds the quota's cap.
func (m *Manager) AccountMemory(pid process.Pid, bytes uint64) error {
	a := m.accountFor(pid)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.MemoryBytes = bytes
	if a.quota.MemoryBytes > 0 && bytes > a.quota.MemoryBytes {
		a.usage.Violations++
		if m.enforce {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// AcquireHandle reserves one handle slot for pid, blocking until ctx
// is done or a slot frees up if the process is at its handle quota.
func (m *Manager) AcquireHandle(ctx context.Context, pid process.Pid) error {
	a := m.accountFor(pid)
	if a.handles != nil {
		if err := a.handles.Acquire(ctx, 1); err != nil {
			a.mu.Lock()
			a.usage.Violations++
			a.mu.Unlock()
			return ErrQuotaExceeded
		}
	}
	a.mu.Lock()
	a.usage.HandlesOpen++
	a.mu.Unlock()
	return nil
}

// ReleaseHandle gives back one handle slot for pid.
func (m *Manager) ReleaseHandle(pid process.Pid) {
	a := m.accountFor(pid)
	a.mu.Lock()
	if a.usage.HandlesOpen > 0 {
		a.usage.HandlesOpen--
	}
	a.mu.Unlock()
	if a.handles != nil {
		a.handles.Release(1)
	}
}

// AccountBandwidth charges n bytes of I/O against pid's bandwidth
// quota, returning ErrQuotaExceeded (if enforcing) when it would
// exceed the ceiling for this instant.
func (m *Manager) AccountBandwidth(pid process.Pid, sent, received uint64) error {
	a := m.accountFor(pid)
	a.mu.Lock()
	a.usage.BytesSent += sent
	a.usage.BytesReceived += received
	a.mu.Unlock()

	if a.bw == nil {
		return nil
	}
	n := int(sent + received)
	if n > 0 && !a.bw.AllowN(time.Now(), n) {
		a.mu.Lock()
		a.usage.Violations++
		a.mu.Unlock()
		if m.enforce {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// AccountSyscall charges one syscall against pid's rate limit.
func (m *Manager) AccountSyscall(pid process.Pid) error {
	a := m.accountFor(pid)
	a.mu.Lock()
	a.usage.Syscalls++
	a.mu.Unlock()

	if a.sys == nil {
		return nil
	}
	if !a.sys.Allow() {
		a.mu.Lock()
		a.usage.Violations++
		a.mu.Unlock()
		if m.enforce {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// Snapshot returns a copy of pid's current usage.
func (m *Manager) Snapshot(pid process.Pid) Usage {
	a := m.accountFor(pid)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}
