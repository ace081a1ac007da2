package actions

import (
	"context"

	"github.com/atomikpanda/converge/internal/service"
	"github.com/atomikpanda/converge/internal/spec"
)

func (e *Executor) applyService(ctx context.Context, s spec.Spec) (string, string, error) {
	want, err := service.ParseState(s.Attr(spec.AttrState))
	if err != nil {
		return "", ServiceManager, err
	}
	if err := e.Host.Services.SetState(ctx, s.Identity, want); err != nil {
		return "", ServiceManager, err
	}
	return s.Identity + " " + string(want), ServiceManager, nil
}
