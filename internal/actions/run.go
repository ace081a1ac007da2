package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/atomikpanda/converge/internal/shell"
	"github.com/atomikpanda/converge/internal/spec"
)

// stderrLines is how much stderr an ExitError carries.
const stderrLines = 10

// applyCommand runs the command. Args are executed directly; otherwise the
// command attribute goes through sh -c. The user attribute switches process
// credentials instead of wrapping the command in su.
func (e *Executor) applyCommand(ctx context.Context, s spec.Spec) (string, string, error) {
	c := shell.Command{
		Args: s.Args,
		User: s.Attr(spec.AttrUser),
		Dir:  s.Attr(spec.AttrCwd),
	}
	if len(c.Args) == 0 {
		c.Line = s.Attr(spec.AttrCommand)
	}
	res, err := e.Host.Commands.Run(ctx, c)
	if err != nil {
		return "", CommandRunner, err
	}
	if res.ExitCode != 0 {
		return "", CommandRunner, &ExitError{Code: res.ExitCode, Stderr: strings.TrimSpace(res.StderrTail(stderrLines))}
	}
	as := ""
	if c.User != "" {
		as = " as " + c.User
	}
	return fmt.Sprintf("ran %q%s, exit 0", s.Identity, as), CommandRunner, nil
}
