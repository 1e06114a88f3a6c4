package resource

import "sync"

// CoreLoad is the load signal one worker reports (§4.7 "Load
// signals"): cpu utilization, process count, memory pressure, I/O
// wait, load average.
type CoreLoad struct {
	CPUUtilization float64
	ProcessCount   int
	MemoryPressure float64
	IOWait         float64
	LoadAverage    float64
}

// Migration is an advisory recommendation to move work from one core
// to another (§4.7). It names cores only, not a task. Nothing in this
// module applies it: the work-stealing scheduler does not read
// Recommendations.
type Migration struct {
	FromCore int
	ToCore   int
}

// LoadBalancer aggregates per-core load reports and issues migration
// recommendations through a pull API (Recommendations) rather than a
// push that directly reassigns tasks. Reports come from whoever calls
// Report; the scheduler neither reports load nor polls it.
type LoadBalancer struct {
	mu    sync.Mutex
	loads map[int]CoreLoad

	// Threshold is the CPU-utilization gap between the busiest and
	// idlest core above which a migration is recommended.
	Threshold float64
}

// NewLoadBalancer constructs a LoadBalancer with a default imbalance
// threshold of 0.25 (25 percentage points of CPU utilization).
func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{loads: make(map[int]CoreLoad), Threshold: 0.25}
}

// Report records core's current load, overwriting its previous report.
func (b *LoadBalancer) Report(core int, load CoreLoad) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads[core] = load
}

// Recommendations returns at most one suggested migration: from the
// busiest core to the idlest, when their CPU utilization gap exceeds
// Threshold. Other core pairs are not considered.
func (b *LoadBalancer) Recommendations() []Migration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.loads) < 2 {
		return nil
	}

	busiest, idlest := -1, -1
	var maxUtil, minUtil float64
	first := true
	for core, l := range b.loads {
		if first || l.CPUUtilization > maxUtil {
			maxUtil, busiest = l.CPUUtilization, core
		}
		if first || l.CPUUtilization < minUtil {
			minUtil, idlest = l.CPUUtilization, core
		}
		first = false
	}

	if busiest == idlest || maxUtil-minUtil <= b.Threshold {
		return nil
	}
	return []Migration{{FromCore: busiest, ToCore: idlest}}
}
