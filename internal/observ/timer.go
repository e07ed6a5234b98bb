// Package observ collects wall-clock timings and counters for a
// scheduler run. A single Timer is shared by all participant
// goroutines of the CLI driver, so entry points are safe for
// concurrent use and repeated stages accumulate.
package observ

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Timer aggregates named stages and counters for one run.
type Timer struct {
	mu       sync.Mutex
	order    []string
	stages   map[string]*stage
	counters map[string]int64
}

type stage struct {
	dur   time.Duration
	spans int
	note  string
}

// NewTimer creates an empty Timer.
func NewTimer() *Timer {
	return &Timer{
		stages:   make(map[string]*stage),
		counters: make(map[string]int64),
	}
}

// Stage starts timing the named stage and returns its stop function.
// Several goroutines may time the same stage; their spans accumulate.
// Stopping twice is a no-op.
func (t *Timer) Stage(name string) func(note string) {
	start := time.Now()
	var once sync.Once
	return func(note string) {
		once.Do(func() {
			dur := time.Since(start)
			t.mu.Lock()
			s := t.stages[name]
			if s == nil {
				s = &stage{}
				t.stages[name] = s
				t.order = append(t.order, name)
			}
			s.dur += dur
			s.spans++
			if note != "" {
				s.note = note
			}
			t.mu.Unlock()
		})
	}
}

// Add bumps a named counter by delta.
func (t *Timer) Add(name string, delta int64) {
	t.mu.Lock()
	t.counters[name] += delta
	t.mu.Unlock()
}

// StageReport is the serializable form of one aggregated stage.
type StageReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	Spans      int     `json:"spans,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// Report holds every stage in first-seen order, the total time across
// them, and the counters.
type Report struct {
	TotalMS  float64          `json:"total_ms"`
	Stages   []StageReport    `json:"stages"`
	Counters map[string]int64 `json:"counters,omitempty"`
}

// Report snapshots the timer.
func (t *Timer) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := Report{Stages: make([]StageReport, 0, len(t.order))}
	var total time.Duration
	for _, name := range t.order {
		s := t.stages[name]
		total += s.dur
		report.Stages = append(report.Stages, StageReport{
			Name:       name,
			DurationMS: float64(s.dur) / float64(time.Millisecond),
			Spans:      s.spans,
			Note:       s.note,
		})
	}
	report.TotalMS = float64(total) / float64(time.Millisecond)
	if len(t.counters) > 0 {
		report.Counters = make(map[string]int64, len(t.counters))
		for name, v := range t.counters {
			report.Counters[name] = v
		}
	}
	return report
}

// Summary returns a human-readable rendering of the report.
func (t *Timer) Summary() string {
	report := t.Report()
	out := "timings:\n"
	for _, s := range report.Stages {
		out += fmt.Sprintf("  %-20s %7.2f ms", s.Name, s.DurationMS)
		if s.Spans > 1 {
			out += fmt.Sprintf("  (%d spans)", s.Spans)
		}
		if s.Note != "" {
			out += "  // " + s.Note
		}
		out += "\n"
	}
	out += fmt.Sprintf("  %-20s %7.2f ms\n", "total", report.TotalMS)

	if len(report.Counters) > 0 {
		names := make([]string, 0, len(report.Counters))
		for name := range report.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		out += "counters:\n"
		for _, name := range names {
			out += fmt.Sprintf("  %-20s %d\n", name, report.Counters[name])
		}
	}
	return out
}
