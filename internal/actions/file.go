package actions

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"

	"github.com/zeebo/blake3"

	"github.com/atomikpanda/converge/internal/spec"
)

// applyFile writes the content attribute, or an empty marker file.
func (e *Executor) applyFile(_ context.Context, s spec.Spec) (string, string, error) {
	mode, err := s.Mode(0o644)
	if err != nil {
		return "", Filesystem, err
	}
	data := []byte(s.Attr(spec.AttrContent))
	if err := e.Host.Files.WriteFile(s.Identity, data, s.Attr(spec.AttrOwner), s.Attr(spec.AttrGroup), mode); err != nil {
		return "", Filesystem, err
	}
	return "wrote " + s.Identity + " " + summary(data, mode, s), Filesystem, nil
}

func (e *Executor) applyTemplate(_ context.Context, s spec.Spec) (string, string, error) {
	mode, err := s.Mode(0o644)
	if err != nil {
		return "", Filesystem, err
	}
	source := s.Attr(spec.AttrSource)
	data, err := e.Host.Templates.Render(source, e.templateData(s))
	if err != nil {
		return "", Templates, err
	}
	// rendered output may hold key material
	defer clear(data)

	if err := e.Host.Files.WriteFile(s.Identity, data, s.Attr(spec.AttrOwner), s.Attr(spec.AttrGroup), mode); err != nil {
		return "", Filesystem, err
	}
	return fmt.Sprintf("rendered %s -> %s %s", source, s.Identity, summary(data, mode, s)), Templates, nil
}

func (e *Executor) applyLink(_ context.Context, s spec.Spec) (string, string, error) {
	to := s.Attr(spec.AttrTo)
	if err := e.Host.Files.Symlink(to, s.Identity); err != nil {
		return "", Filesystem, err
	}
	return fmt.Sprintf("linked %s -> %s", s.Identity, to), Filesystem, nil
}

// summary is "(N bytes, 0644 owner:group, blake3:xxxxxxxxxxxx)".
func summary(data []byte, mode fs.FileMode, s spec.Spec) string {
	sum := blake3.Sum256(data)
	return fmt.Sprintf("(%d bytes, %04o%s, blake3:%s)", len(data), mode.Perm(), ownership(s), hex.EncodeToString(sum[:6]))
}

func ownership(s spec.Spec) string {
	owner, group := s.Attr(spec.AttrOwner), s.Attr(spec.AttrGroup)
	if owner == "" && group == "" {
		return ""
	}
	return " " + owner + ":" + group
}
