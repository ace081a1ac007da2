package secret

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestNewRejectsNonPositive(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := New(-1); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestNewFromBytesZeroesSource(t *testing.T) {
	source := []byte("super-secret-password")
	b, err := NewFromBytes(source)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if got := b.String(); got != "super-secret-password" {
		t.Errorf("String() = %q", got)
	}
	for i, c := range source {
		if c != 0 {
			t.Fatalf("source byte %d not zeroed", i)
		}
	}
}

func TestBufferCloseIsIdempotentAndPanicsAfter(t *testing.T) {
	b, err := NewFromBytes([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("expected panic reading a closed buffer")
		}
	}()
	b.Bytes()
}

func TestRandom(t *testing.T) {
	a, err := Random(24)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Random(24)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if a.Len() != 32 {
		t.Errorf("Len() = %d, want 32 (base64 of 24 bytes)", a.Len())
	}
	if a.String() == b.String() {
		t.Error("two random secrets are equal")
	}
}

func TestVault(t *testing.T) {
	v := NewVault()
	if err := v.PutBytes("db_password", []byte("vagrant")); err != nil {
		t.Fatal(err)
	}
	if err := v.PutBytes("api_token", []byte("t0k")); err != nil {
		t.Fatal(err)
	}

	got, ok := v.Value("db_password")
	if !ok || got != "vagrant" {
		t.Errorf("Value(db_password) = %q, %v", got, ok)
	}
	if _, ok := v.Value("missing"); ok {
		t.Error("Value(missing) should report false")
	}
	if names := v.Names(); len(names) != 2 || names[0] != "api_token" {
		t.Errorf("Names() = %v", names)
	}

	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := v.Value("db_password"); ok {
		t.Error("Value after Close should report false")
	}
	if err := v.PutBytes("late", []byte("x")); err == nil {
		t.Error("Put after Close should fail")
	}
}

func TestRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("secret loaded", "value", Redacted("hunter2"))
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("log leaked secret: %s", buf.String())
	}
	if s := fmt.Sprintf("%v", Redacted("hunter2")); s != "[redacted]" {
		t.Errorf("fmt leaked secret: %s", s)
	}
}
