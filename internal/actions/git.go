package actions

import (
	"context"
	"fmt"

	"github.com/atomikpanda/converge/internal/spec"
	"github.com/atomikpanda/converge/internal/vcs"
)

func (e *Executor) applyGit(ctx context.Context, s spec.Spec) (string, string, error) {
	opts := vcs.CloneOptions{
		Repository: s.Attr(spec.AttrRepository),
		Reference:  s.Attr(spec.AttrReference),
		Path:       s.Identity,
		User:       s.Attr(spec.AttrUser),
	}
	if err := e.Host.Repos.Clone(ctx, opts); err != nil {
		return "", VersionControl, err
	}
	ref := opts.Reference
	if ref == "" {
		ref = "HEAD"
	}
	return fmt.Sprintf("cloned %s@%s into %s", opts.Repository, ref, opts.Path), VersionControl, nil
}
