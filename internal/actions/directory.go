package actions

import (
	"context"
	"fmt"

	"github.com/atomikpanda/converge/internal/spec"
)

// applyDirectory creates the directory. With recursive set, missing
// parents are created as well.
func (e *Executor) applyDirectory(_ context.Context, s spec.Spec) (string, string, error) {
	mode, err := s.Mode(0o755)
	if err != nil {
		return "", Filesystem, err
	}
	recursive := s.Bool(spec.AttrRecursive)
	if err := e.Host.Files.MakeDirectory(s.Identity, s.Attr(spec.AttrOwner), s.Attr(spec.AttrGroup), mode, recursive); err != nil {
		return "", Filesystem, err
	}
	return fmt.Sprintf("created %s (%04o%s)", s.Identity, mode.Perm(), ownership(s)), Filesystem, nil
}
