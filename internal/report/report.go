// Package report keeps the ordered trace of one run: an entry per spec
// visited, with its outcome, timing and detail.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/atomikpanda/converge/internal/clock"
	"github.com/atomikpanda/converge/internal/color"
)

// Outcome is what happened to a spec.
type Outcome string

const (
	Applied Outcome = "applied"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// ErrFinalized is returned by Append once the record is closed.
var ErrFinalized = errors.New("report: record is finalized")

// Entry records the outcome of one spec.
type Entry struct {
	Key      string        `json:"key"`
	Kind     string        `json:"kind"`
	Identity string        `json:"identity"`
	Outcome  Outcome       `json:"outcome"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration_ns"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Summary aggregates counts across the run.
type Summary struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Total is the number of entries counted.
func (s Summary) Total() int { return s.Applied + s.Skipped + s.Failed }

// Record is the append-only trace of one run.
type Record struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	mu        sync.Mutex
	clock     clock.Clock
	entries   []Entry
	finalized bool
}

// New starts a record. c supplies StartedAt and FinishedAt.
func New(id string, c clock.Clock) *Record {
	if c == nil {
		c = clock.Real()
	}
	return &Record{ID: id, StartedAt: c.Now(), clock: c}
}

// Restore rebuilds a finalized record, for records read back from history.
func Restore(id string, started, finished time.Time, entries []Entry) *Record {
	return &Record{
		ID:         id,
		StartedAt:  started,
		FinishedAt: finished,
		clock:      clock.Real(),
		entries:    slices.Clone(entries),
		finalized:  true,
	}
}

// Append adds e to the trace.
func (r *Record) Append(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrFinalized
	}
	r.entries = append(r.entries, e)
	return nil
}

// Finalize closes the record. Calling it again has no effect.
func (r *Record) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.finalized = true
	r.FinishedAt = r.clock.Now()
}

// Finalized reports whether Finalize has been called.
func (r *Record) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// Entries returns a copy of the trace in execution order.
func (r *Record) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

func (r *Record) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Summary
	for _, e := range r.entries {
		switch e.Outcome {
		case Applied:
			s.Applied++
		case Skipped:
			s.Skipped++
		case Failed:
			s.Failed++
		}
	}
	return s
}

// Failed returns the failed entry, or nil. A run halts on its first
// failure so there is at most one.
func (r *Record) Failed() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].Outcome == Failed {
			e := r.entries[i]
			return &e
		}
	}
	return nil
}

// Duration is the wall time of a finalized run.
func (r *Record) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Render writes a human summary. With verbose set, every entry is listed
// first in execution order.
func (r *Record) Render(w io.Writer, verbose bool) error {
	entries := r.Entries()
	if verbose {
		for _, e := range entries {
			line := fmt.Sprintf("  %s %s %s", outcomeLabel(e.Outcome), e.Key, color.Dim(e.Duration.Round(time.Millisecond).String()))
			if e.Detail != "" {
				line += "  " + color.Dim(e.Detail)
			}
			if e.Error != "" {
				line += "\n      " + color.Red(e.Error)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}

	s := r.Summary()
	status := color.BoldGreen("converged")
	if s.Failed > 0 {
		status = color.BoldRed("failed")
	}
	_, err := fmt.Fprintf(w, "\n%s %s: %d applied, %d skipped, %d failed in %s\n",
		status, color.Dim(r.ID), s.Applied, s.Skipped, s.Failed, r.Duration().Round(time.Millisecond))
	if err != nil {
		return err
	}
	if f := r.Failed(); f != nil {
		_, err = fmt.Fprintf(w, "%s %s: %s\n", color.Red("halted at"), f.Key, f.Error)
	}
	return err
}

// WriteNDJSON writes one JSON object per entry.
func (r *Record) WriteNDJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, e := range r.Entries() {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func outcomeLabel(o Outcome) string {
	label := fmt.Sprintf("%-7s", o)
	switch o {
	case Applied:
		return color.Green(label)
	case Skipped:
		return color.Dim(label)
	case Failed:
		return color.BoldRed(label)
	default:
		return label
	}
}
