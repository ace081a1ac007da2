package shell

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use Unix commands")
	}
}

func TestRunArgsCapturesOutput(t *testing.T) {
	skipWindows(t)
	var r Runner
	res, err := r.Run(context.Background(), Command{Args: []string{"echo", "hello", "$HOME"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
	// argv is not interpreted by a shell
	if strings.TrimSpace(res.Stdout) != "hello $HOME" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestRunLineNonZeroExit(t *testing.T) {
	skipWindows(t)
	var r Runner
	res, err := r.Run(context.Background(), Command{Line: "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.StderrTail(1) != "oops" {
		t.Errorf("StderrTail = %q", res.StderrTail(1))
	}
}

func TestRunDir(t *testing.T) {
	skipWindows(t)
	dir := t.TempDir()
	var r Runner
	res, err := r.Run(context.Background(), Command{Args: []string{"pwd"}, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestRunAsCurrentUser(t *testing.T) {
	skipWindows(t)
	u, err := user.Current()
	if err != nil {
		t.Skip("cannot determine current user")
	}
	var r Runner
	res, err := r.Run(context.Background(), Command{Line: "echo $USER", User: u.Username, Dir: os.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != u.Username {
		t.Errorf("USER = %q, want %q", res.Stdout, u.Username)
	}
}

func TestRunUnknownUser(t *testing.T) {
	var r Runner
	_, err := r.Run(context.Background(), Command{Args: []string{"true"}, User: "no-such-user-xyz"})
	if err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestRunEmpty(t *testing.T) {
	var r Runner
	if _, err := r.Run(context.Background(), Command{}); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestRunMissingBinary(t *testing.T) {
	var r Runner
	_, err := r.Run(context.Background(), Command{Args: []string{"nonexistent_binary_xyz_12345"}})
	if err == nil {
		t.Error("expected exec error for missing binary")
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	skipWindows(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var r Runner
	start := time.Now()
	_, err := r.Run(ctx, Command{Line: "sleep 10 & sleep 10"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process group was not killed promptly")
	}
}

func TestRunTruncatesOutput(t *testing.T) {
	skipWindows(t)
	r := Runner{MaxOutput: 4}
	res, err := r.Run(context.Background(), Command{Line: "echo abcdefgh"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Stdout, "abcd") || !strings.Contains(res.Stdout, "truncated") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestEval(t *testing.T) {
	skipWindows(t)
	var r Runner
	ok, err := r.Eval(context.Background(), "true")
	if err != nil || !ok {
		t.Errorf("Eval(true) = %v, %v", ok, err)
	}
	ok, err = r.Eval(context.Background(), "false")
	if err != nil || ok {
		t.Errorf("Eval(false) = %v, %v", ok, err)
	}
}

func TestEvalCancelled(t *testing.T) {
	skipWindows(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var r Runner
	if _, err := r.Eval(ctx, "sleep 10"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
