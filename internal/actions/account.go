package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/atomikpanda/converge/internal/accounts"
	"github.com/atomikpanda/converge/internal/spec"
)

func (e *Executor) applyUser(ctx context.Context, s spec.Spec) (string, string, error) {
	u := accounts.User{
		Name:  s.Identity,
		Home:  s.Attr(spec.AttrHome),
		Shell: s.Attr(spec.AttrShell),
		Group: s.Attr(spec.AttrGroup),
	}
	if err := e.Host.Accounts.CreateUser(ctx, u); err != nil {
		return "", Accounts, err
	}
	return "created user " + u.Name, Accounts, nil
}

// applyGroup creates the group when it is missing and adds the declared
// members. Existing members are left alone.
func (e *Executor) applyGroup(ctx context.Context, s spec.Spec) (string, string, error) {
	acc := e.Host.Accounts
	exists, err := acc.GroupExists(s.Identity)
	if err != nil {
		return "", Accounts, err
	}
	var done []string
	if !exists {
		if err := acc.CreateGroup(ctx, s.Identity); err != nil {
			return "", Accounts, err
		}
		done = append(done, "created group "+s.Identity)
	}
	if members := s.Members(); len(members) > 0 {
		if err := acc.AddMembers(ctx, s.Identity, members); err != nil {
			return "", Accounts, err
		}
		done = append(done, fmt.Sprintf("members %s in %s", strings.Join(members, ","), s.Identity))
	}
	if len(done) == 0 {
		return "group " + s.Identity + " present", Accounts, nil
	}
	return strings.Join(done, "; "), Accounts, nil
}
