// Package runner drives a converge run: order the specs, then for each one
// consult its guard and apply it when unsatisfied, recording every outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atomikpanda/converge/internal/actions"
	"github.com/atomikpanda/converge/internal/clock"
	"github.com/atomikpanda/converge/internal/color"
	"github.com/atomikpanda/converge/internal/guard"
	"github.com/atomikpanda/converge/internal/host"
	"github.com/atomikpanda/converge/internal/logging"
	"github.com/atomikpanda/converge/internal/report"
	"github.com/atomikpanda/converge/internal/sequencer"
	"github.com/atomikpanda/converge/internal/spec"
)

// Guard decides whether a spec is already satisfied.
type Guard interface {
	IsSatisfied(ctx context.Context, s spec.Spec) (bool, error)
}

// Executor applies an unsatisfied spec.
type Executor interface {
	Apply(ctx context.Context, s spec.Spec) (string, error)
}

// History stores finished run records.
type History interface {
	Save(ctx context.Context, command, manifest string, rec *report.Record) error
}

// Runner executes spec lists strictly in sequence.
type Runner struct {
	Guard    Guard
	Executor Executor
	// Closer is released when a run ends, typically the secrets vault.
	Closer io.Closer
	// History is optional. Failures to save are logged and never fail a run.
	History History
	// ActionTimeout bounds each action. A spec's "timeout" attribute
	// overrides it. Zero means no bound.
	ActionTimeout time.Duration

	Command  string // recorded in history, e.g. "apply"
	Manifest string

	Clock   clock.Clock
	Log     *slog.Logger
	Out     io.Writer
	Verbose bool
	NewID   func() string
}

// New returns a Runner that checks and applies specs against h. ex is
// bound to h.
func New(h host.Host, ex *actions.Executor) *Runner {
	ex.Host = h
	r := &Runner{
		Guard:    guard.New(h),
		Executor: ex,
		Command:  "apply",
		Clock:    clock.Real(),
		Log:      logging.Discard(),
		Out:      io.Discard,
		NewID:    uuid.NewString,
	}
	if ex.Secrets != nil {
		r.Closer = ex.Secrets
	}
	return r
}

// Run converges specs. A *spec.ValidationError is returned with a nil
// record before anything is touched. Otherwise the record is always
// finalized and returned; the error is the failing action's
// *actions.ExecutionError or *actions.TimeoutError.
func (r *Runner) Run(ctx context.Context, specs []spec.Spec) (*report.Record, error) {
	if r.Closer != nil {
		defer r.Closer.Close()
	}
	ordered, err := sequencer.Order(specs)
	if err != nil {
		return nil, err
	}

	rec := report.New(r.NewID(), r.Clock)
	log := r.Log.With("run", rec.ID)
	log.Info("run started", "actions", len(ordered), "manifest", r.Manifest)
	fmt.Fprintf(r.Out, "%s %s (%d actions)\n", color.BoldCyan("==>"), color.Bold(r.Command), len(ordered))

	var runErr error
	for _, s := range ordered {
		entry, err := r.step(ctx, log, s)
		if aerr := rec.Append(entry); aerr != nil {
			runErr = fmt.Errorf("record %s: %w", s.Key(), aerr)
			break
		}
		r.progress(entry, s)
		if err != nil {
			runErr = err
			break
		}
	}
	rec.Finalize()

	sum := rec.Summary()
	log.Info("run finished",
		"applied", sum.Applied, "skipped", sum.Skipped, "failed", sum.Failed,
		"duration", rec.Duration())
	r.save(ctx, log, rec)
	return rec, runErr
}

// step evaluates and, when needed, applies one spec.
func (r *Runner) step(ctx context.Context, log *slog.Logger, s spec.Spec) (report.Entry, error) {
	start := r.Clock.Now()
	entry := report.Entry{
		Key:      s.Key(),
		Kind:     string(s.Kind),
		Identity: s.Identity,
		Time:     start,
	}
	finish := func(o report.Outcome, detail string, err error) (report.Entry, error) {
		entry.Outcome = o
		entry.Detail = detail
		entry.Duration = r.Clock.Now().Sub(start)
		if err != nil {
			entry.Error = err.Error()
		}
		return entry, err
	}

	if err := ctx.Err(); err != nil {
		err = &actions.TimeoutError{ExecutionError: &actions.ExecutionError{Key: s.Key(), Collaborator: "runner", Err: err}}
		log.Error("run cancelled", "key", s.Key(), "err", err)
		return finish(report.Failed, "", err)
	}

	actx, cancel := r.actionContext(ctx, s)
	defer cancel()

	satisfied, err := r.Guard.IsSatisfied(actx, s)
	var note string
	if err != nil {
		var gerr *guard.GuardError
		if !errors.As(err, &gerr) {
			gerr = &guard.GuardError{Key: s.Key(), Err: err}
		}
		log.Warn("guard failed, applying", "key", s.Key(), "collaborator", gerr.Collaborator, "err", gerr.Err)
		note = "guard error: " + gerr.Err.Error() + "; "
	}
	if satisfied {
		detail := "already satisfied"
		if s.Guard != nil {
			detail += " (" + s.Guard.String() + ")"
		}
		log.Debug("skipped", "key", s.Key(), "guard", s.Guard.String())
		return finish(report.Skipped, detail, nil)
	}

	detail, err := r.Executor.Apply(actx, s)
	if err != nil {
		log.Error("action failed", "key", s.Key(), "err", err)
		return finish(report.Failed, note+s.Describe(), err)
	}
	log.Info("applied", "key", s.Key(), "detail", detail)
	return finish(report.Applied, note+detail, nil)
}

func (r *Runner) actionContext(ctx context.Context, s spec.Spec) (context.Context, context.CancelFunc) {
	d := r.ActionTimeout
	if t, err := s.Timeout(); err == nil && t > 0 {
		d = t
	}
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (r *Runner) progress(e report.Entry, s spec.Spec) {
	switch e.Outcome {
	case report.Applied:
		fmt.Fprintf(r.Out, "  %s %s\n", color.Green("->"), s.Describe())
		if r.Verbose && e.Detail != "" {
			fmt.Fprintf(r.Out, "     %s\n", color.Dim(e.Detail))
		}
	case report.Skipped:
		if r.Verbose {
			fmt.Fprintf(r.Out, "  %s %s %s\n", color.Dim("--"), s.Describe(), color.Dim("("+e.Detail+")"))
		}
	case report.Failed:
		fmt.Fprintf(r.Out, "  %s %s\n     %s\n", color.BoldRed("!!"), s.Describe(), color.Red(e.Error))
	}
}

func (r *Runner) save(ctx context.Context, log *slog.Logger, rec *report.Record) {
	if r.History == nil {
		return
	}
	// a cancelled run is still worth recording
	ctx = context.WithoutCancel(ctx)
	if err := r.History.Save(ctx, r.Command, r.Manifest, rec); err != nil {
		log.Warn("run history not saved", "err", err)
	}
}
