// Package loopdetect flags runaway tool-call repetition within a session.
package loopdetect

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
)

// Defaults used when a Config field is zero.
const (
	DefaultHistorySize  = 20
	DefaultMaxRepeats   = 3
	DefaultCycleRepeats = 3

	minPeriod = 2
	maxPeriod = 4
)

// Config bounds the detector.
type Config struct {
	// HistorySize is how many fingerprints are kept.
	HistorySize int
	// MaxRepeats is how many identical consecutive calls are tolerated.
	MaxRepeats int
	// CycleRepeats is how many repetitions of a short cycle are tolerated.
	CycleRepeats int
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.MaxRepeats <= 0 {
		c.MaxRepeats = DefaultMaxRepeats
	}
	if c.CycleRepeats <= 0 {
		c.CycleRepeats = DefaultCycleRepeats
	}
	// The window must be able to hold a full offending run.
	need := max(c.MaxRepeats+1, maxPeriod*(c.CycleRepeats+1))
	if c.HistorySize < need {
		c.HistorySize = need
	}
	return c
}

// Loop describes a detected repetition.
type Loop struct {
	// Period is 1 for identical consecutive calls, 2 to 4 for cycles.
	Period int
	// Count is how many times the repeating unit occurred in a row.
	Count int
}

func (l Loop) String() string {
	if l.Period == 1 {
		return fmt.Sprintf("same tool call repeated %d times", l.Count)
	}
	return fmt.Sprintf("cycle of %d tool calls repeated %d times", l.Period, l.Count)
}

// Detector keeps a bounded history of tool-call fingerprints.
type Detector struct {
	cfg Config

	mu      sync.Mutex
	history []string
}

// New creates a Detector. Zero fields in cfg take their defaults.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// Fingerprint returns the canonical signature of a call. Map keys are
// sorted by encoding/json, so argument order does not matter.
func Fingerprint(name string, args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		b = fmt.Appendf(nil, "%v", args)
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%s:%x", name, sum[:12])
}

// Record appends a call to the history, dropping the oldest entry when
// the history is full.
func (d *Detector) Record(name string, args map[string]any) {
	fp := Fingerprint(name, args)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, fp)
	if over := len(d.history) - d.cfg.HistorySize; over > 0 {
		d.history = append(d.history[:0], d.history[over:]...)
	}
}

// Check reports whether the tail of the history is a loop.
func (d *Detector) Check() (Loop, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.history
	if n := trailingRepeats(h, 1); n > d.cfg.MaxRepeats {
		return Loop{Period: 1, Count: n}, true
	}
	for p := minPeriod; p <= maxPeriod; p++ {
		if len(h) < p || uniform(h[len(h)-p:]) {
			continue
		}
		if n := trailingRepeats(h, p); n > d.cfg.CycleRepeats {
			return Loop{Period: p, Count: n}, true
		}
	}
	return Loop{}, false
}

// Len returns the number of fingerprints held.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.history)
}

// Clear discards the history.
func (d *Detector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

// trailingRepeats counts how many complete copies of the last period
// entries sit back to back at the end of h.
func trailingRepeats(h []string, period int) int {
	if len(h) < period {
		return 0
	}
	matched := 0
	for i := len(h) - 1 - period; i >= 0; i-- {
		if h[i] != h[i+period] {
			break
		}
		matched++
	}
	return (matched + period) / period
}

func uniform(s []string) bool {
	for _, v := range s[1:] {
		if v != s[0] {
			return false
		}
	}
	return true
}
