package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/atomikpanda/converge/internal/dbadmin"
	"github.com/atomikpanda/converge/internal/spec"
)

func (e *Executor) applyDatabaseUser(ctx context.Context, s spec.Spec) (string, string, error) {
	admin, err := e.Host.Databases.For(s.Attr(spec.AttrEngine))
	if err != nil {
		return "", DatabaseAdmin, err
	}
	password, err := e.secretValue(s.Attr(spec.AttrPassword))
	if err != nil {
		return "", Secrets, err
	}
	defer clear(password)
	if err := admin.CreateUser(ctx, s.ObjectName(), password); err != nil {
		return "", DatabaseAdmin, err
	}
	return fmt.Sprintf("created %s user %s", s.Attr(spec.AttrEngine), s.ObjectName()), DatabaseAdmin, nil
}

func (e *Executor) applyDatabase(ctx context.Context, s spec.Spec) (string, string, error) {
	admin, err := e.Host.Databases.For(s.Attr(spec.AttrEngine))
	if err != nil {
		return "", DatabaseAdmin, err
	}
	if err := admin.CreateDatabase(ctx, s.ObjectName()); err != nil {
		return "", DatabaseAdmin, err
	}
	return fmt.Sprintf("created %s database %s", s.Attr(spec.AttrEngine), s.ObjectName()), DatabaseAdmin, nil
}

func (e *Executor) applyGrant(ctx context.Context, s spec.Spec) (string, string, error) {
	admin, err := e.Host.Databases.For(s.Attr(spec.AttrEngine))
	if err != nil {
		return "", DatabaseAdmin, err
	}
	g := dbadmin.Grant{
		User:       s.Attr(spec.AttrUser),
		Database:   s.Attr(spec.AttrDatabase),
		Privileges: s.Privileges(),
	}
	if err := admin.GrantPrivileges(ctx, g); err != nil {
		return "", DatabaseAdmin, err
	}
	target := g.Database
	if target == "" {
		target = "*"
	}
	return fmt.Sprintf("granted %s on %s to %s", strings.Join(g.Privileges, ","), target, g.User), DatabaseAdmin, nil
}
