// Package config loads the runtime's startup configuration from TOML,
// following the manifest/config style seen across the retrieved corpus
// (Mu-L-gvisor's runsc/config and joeycumines-go-utilpkg both decode
// settings with github.com/BurntSushi/toml).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level runtime configuration (§6 "Runtime
// initialization" needs worker count, quantum, and the resource
// manager's defaults before anything can be spawned).
type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Resource  ResourceConfig  `toml:"resource"`
	Logging   LoggingConfig   `toml:"logging"`
}

// SchedulerConfig configures the work-stealing scheduler (§4.3).
type SchedulerConfig struct {
	Workers           int           `toml:"workers"`
	Quantum           time.Duration `toml:"quantum"`
	DeprioritizeAfter uint64        `toml:"deprioritize_after"`
	PinWorkers        bool          `toml:"pin_workers"`
}

// ResourceConfig configures the default per-process quota and whether
// it is enforced or observation-only (§4.7).
type ResourceConfig struct {
	Enforce        bool          `toml:"enforce"`
	MemoryBytes    uint64        `toml:"memory_bytes"`
	CPUPerPeriod   time.Duration `toml:"cpu_per_period"`
	CPUPeriod      time.Duration `toml:"cpu_period"`
	MaxHandles     int64         `toml:"max_handles"`
	BandwidthBytes float64       `toml:"bandwidth_bytes"`
	SyscallsPerSec float64       `toml:"syscalls_per_sec"`
}

// LoggingConfig configures the zap logger the Runtime builds and hands
// to its registry, scheduler and supervisors.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns a Config with conservative defaults suitable for a
// single development machine.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			Workers:           0, // 0 => runtime.NumCPU()
			Quantum:           5 * time.Millisecond,
			DeprioritizeAfter: 10,
		},
		Resource: ResourceConfig{
			Enforce: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads and decodes a TOML file at path, applying it on top of
// Default() so a partial file only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: %s: unrecognized keys: %v", path, undecoded)
	}
	return cfg, nil
}
