package host

import (
	"testing"
	"testing/fstest"

	"github.com/atomikpanda/converge/internal/dbadmin"
)

func TestLocalWiresEveryCollaborator(t *testing.T) {
	h := Local(fstest.MapFS{}, dbadmin.NewPool(func(string) string { return "" }))
	if h.Packages == nil || h.Files == nil || h.Templates == nil || h.Commands == nil ||
		h.Services == nil || h.Accounts == nil || h.Databases == nil || h.Repos == nil {
		t.Errorf("Local left a collaborator unset: %+v", h)
	}
}
