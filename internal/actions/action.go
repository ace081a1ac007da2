// Package actions applies specs to the host. Each kind has a handler that
// performs the missing change through one collaborator and returns a short
// detail line for the run record. Handlers never decide whether to run; the
// guard has already done that.
package actions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/atomikpanda/converge/internal/host"
	"github.com/atomikpanda/converge/internal/secret"
	"github.com/atomikpanda/converge/internal/spec"
)

// Collaborator names used in errors.
const (
	PackageManager = "package manager"
	Filesystem     = "filesystem"
	Templates      = "renderer"
	CommandRunner  = "command runner"
	ServiceManager = "service manager"
	Accounts       = "accounts"
	DatabaseAdmin  = "database admin"
	VersionControl = "git"
	Secrets        = "secrets"
)

// ExecutionError reports a collaborator failure while applying a spec.
type ExecutionError struct {
	Key          string
	Collaborator string
	Err          error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("apply %s: %s: %v", e.Key, e.Collaborator, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError is an ExecutionError caused by the action's deadline or by
// cancellation of the run.
type TimeoutError struct {
	*ExecutionError
}

func (e *TimeoutError) Error() string {
	return "timed out: " + e.ExecutionError.Error()
}

func (e *TimeoutError) Unwrap() error { return e.ExecutionError }

// ExitError is a command that ran and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

// Executor applies specs.
type Executor struct {
	Host host.Host
	// Vars is the template data shared by every template.
	Vars map[string]any
	// Keys maps keypair names to public keys. Private halves are read from
	// Secrets under secret.KeyName.
	Keys    map[string]string
	Secrets *secret.Vault
}

// handler applies one spec and names the collaborator it used.
type handler func(e *Executor, ctx context.Context, s spec.Spec) (detail, collaborator string, err error)

var handlers = map[spec.Kind]handler{
	spec.Package:      (*Executor).applyPackage,
	spec.Directory:    (*Executor).applyDirectory,
	spec.File:         (*Executor).applyFile,
	spec.Template:     (*Executor).applyTemplate,
	spec.Link:         (*Executor).applyLink,
	spec.Git:          (*Executor).applyGit,
	spec.Command:      (*Executor).applyCommand,
	spec.Service:      (*Executor).applyService,
	spec.User:         (*Executor).applyUser,
	spec.Group:        (*Executor).applyGroup,
	spec.DatabaseUser: (*Executor).applyDatabaseUser,
	spec.Database:     (*Executor).applyDatabase,
	spec.Grant:        (*Executor).applyGrant,
}

// Apply performs s. The returned detail never contains secret values.
// Errors are *ExecutionError or *TimeoutError.
func (e *Executor) Apply(ctx context.Context, s spec.Spec) (string, error) {
	h, ok := handlers[s.Kind]
	if !ok {
		return "", &ExecutionError{Key: s.Key(), Collaborator: "executor", Err: fmt.Errorf("unknown kind %q", s.Kind)}
	}
	if err := ctx.Err(); err != nil {
		return "", &TimeoutError{&ExecutionError{Key: s.Key(), Collaborator: "executor", Err: err}}
	}
	detail, collaborator, err := h(e, ctx, s)
	if err != nil {
		ee := &ExecutionError{Key: s.Key(), Collaborator: collaborator, Err: err}
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", &TimeoutError{ee}
		}
		return "", ee
	}
	return detail, nil
}

// templateData assembles the data for one template: shared vars, then
// "keys" and "secrets", then the spec's own var.* attributes.
func (e *Executor) templateData(s spec.Spec) map[string]any {
	data := maps.Clone(e.Vars)
	if data == nil {
		data = make(map[string]any)
	}
	keys := make(map[string]map[string]string, len(e.Keys))
	for name, pub := range e.Keys {
		k := map[string]string{"public": pub}
		if e.Secrets != nil {
			if priv, ok := e.Secrets.Value(secret.KeyName(name)); ok {
				k["private"] = priv
			}
		}
		keys[name] = k
	}
	data["keys"] = keys

	secrets := make(map[string]string)
	if e.Secrets != nil {
		for _, name := range e.Secrets.Names() {
			if strings.HasPrefix(name, secret.KeyName("")) {
				continue
			}
			v, _ := e.Secrets.Value(name)
			secrets[name] = v
		}
	}
	data["secrets"] = secrets

	for k, v := range s.Vars() {
		data[k] = v
	}
	return data
}

// secretValue resolves a named secret for a collaborator call.
func (e *Executor) secretValue(name string) ([]byte, error) {
	if name == "" {
		return nil, nil
	}
	if e.Secrets == nil {
		return nil, fmt.Errorf("secret %q: no secrets loaded", name)
	}
	v, ok := e.Secrets.Value(name)
	if !ok {
		return nil, fmt.Errorf("secret %q is not defined", name)
	}
	return []byte(v), nil
}
