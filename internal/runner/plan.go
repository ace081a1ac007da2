package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/atomikpanda/converge/internal/color"
	"github.com/atomikpanda/converge/internal/sequencer"
	"github.com/atomikpanda/converge/internal/spec"
)

// PlanStep is one spec of a dry run with its guard verdict.
type PlanStep struct {
	Spec      spec.Spec
	Satisfied bool
	// GuardErr is set when the guard could not be evaluated; the step
	// would then be applied.
	GuardErr error
}

// Status is "skipped" or "pending".
func (p PlanStep) Status() string {
	if p.Satisfied {
		return "skipped"
	}
	return "pending"
}

// Plan orders specs and evaluates every guard without applying anything.
// Guards are evaluated against the current host, so a step that depends on
// a pending one may report pending where a real run would skip it.
func (r *Runner) Plan(ctx context.Context, specs []spec.Spec) ([]PlanStep, error) {
	if r.Closer != nil {
		defer r.Closer.Close()
	}
	ordered, err := sequencer.Order(specs)
	if err != nil {
		return nil, err
	}
	steps := make([]PlanStep, 0, len(ordered))
	for _, s := range ordered {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		actx, cancel := r.actionContext(ctx, s)
		ok, gerr := r.Guard.IsSatisfied(actx, s)
		cancel()
		if gerr != nil {
			r.Log.Warn("guard failed", "key", s.Key(), "err", gerr)
		}
		steps = append(steps, PlanStep{Spec: s, Satisfied: ok, GuardErr: gerr})
	}
	return steps, nil
}

// WritePlan prints steps one per line in execution order.
func WritePlan(w io.Writer, steps []PlanStep) error {
	pending := 0
	for i, p := range steps {
		status := color.Dim(fmt.Sprintf("%-7s", p.Status()))
		if !p.Satisfied {
			pending++
			status = color.Yellow(fmt.Sprintf("%-7s", p.Status()))
		}
		line := fmt.Sprintf("%3d. %s %s", i+1, status, p.Spec.Describe())
		if p.GuardErr != nil {
			line += "  " + color.Red("(guard error: "+p.GuardErr.Error()+")")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%d of %d actions pending\n", pending, len(steps))
	return err
}
