package config

import "time"

// SweepConfig tunes the background expiry sweep.  The interval should stay
// short relative to the lease duration so that status-filtered list views
// never lag far behind reality.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
	Batch    int // max rows reverted per pass
}

// LoadSweepConfig reads the SWEEP_* environment variables.
func LoadSweepConfig() SweepConfig {
	cfg := SweepConfig{
		Enabled:  envBool("SWEEP_ENABLED", true),
		Interval: envDur("SWEEP_INTERVAL", 30*time.Second),
		Batch:    envInt("SWEEP_BATCH", 100),
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return cfg
}
