package actions

import (
	"context"
	"fmt"

	"github.com/atomikpanda/converge/internal/pkgmgr"
	"github.com/atomikpanda/converge/internal/spec"
)

func (e *Executor) applyPackage(ctx context.Context, s spec.Spec) (string, string, error) {
	p := pkgmgr.Package{
		Name:    s.ObjectName(),
		Version: s.Attr(spec.AttrVersion),
		Via:     s.Attr(spec.AttrVia),
		Sudo:    s.Bool(spec.AttrSudo),
	}
	if err := e.Host.Packages.Install(ctx, p); err != nil {
		return "", PackageManager, err
	}
	via := p.Via
	if via == "" {
		via = "default manager"
	}
	return fmt.Sprintf("installed %s via %s", p, via), PackageManager, nil
}
