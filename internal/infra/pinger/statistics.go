package pinger

import (
	"sync"
	"time"
)

// entry is one registered pinger with its options and last results.
type entry struct {
	name           string
	pinger         Pinger
	readyCritical  bool
	healthCritical bool
	timeout        time.Duration

	mu          sync.RWMutex
	lastRun     time.Time
	lastError   error
	lastLatency time.Duration
	successes   uint64
	failures    uint64
}

// Statistics is a point-in-time snapshot of a pinger's results.
type Statistics struct {
	Name           string        `json:"name"`
	ReadyCritical  bool          `json:"readyCritical"`
	HealthCritical bool          `json:"healthCritical"`
	Timeout        time.Duration `json:"timeout"`
	LastRun        time.Time     `json:"lastRun"`
	LastError      string        `json:"lastError,omitempty"`
	LastLatency    time.Duration `json:"lastLatency"`
	Successes      uint64        `json:"successes"`
	Failures       uint64        `json:"failures"`
}

func (e *entry) record(at time.Time, latency time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastRun = at
	e.lastLatency = latency
	e.lastError = err

	if err != nil {
		e.failures++

		return
	}

	e.successes++
}

// lastResult reports whether the pinger completed at least one ping and
// whether the last one succeeded.
func (e *entry) lastResult() (ran, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return !e.lastRun.IsZero(), e.lastError == nil
}

func (e *entry) snapshot() *Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := &Statistics{
		Name:           e.name,
		ReadyCritical:  e.readyCritical,
		HealthCritical: e.healthCritical,
		Timeout:        e.timeout,
		LastRun:        e.lastRun,
		LastLatency:    e.lastLatency,
		Successes:      e.successes,
		Failures:       e.failures,
	}

	if e.lastError != nil {
		out.LastError = e.lastError.Error()
	}

	return out
}
