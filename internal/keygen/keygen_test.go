package keygen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerateEd25519(t *testing.T) {
	kp, err := Generate(Options{Algorithm: Ed25519, Comment: "vagrant@gitlab.local"})
	if err != nil {
		t.Fatal(err)
	}
	defer kp.Close()

	if !strings.HasPrefix(kp.PublicKey, "ssh-ed25519 ") {
		t.Errorf("PublicKey = %q", kp.PublicKey)
	}
	if !strings.HasSuffix(kp.PublicKey, " vagrant@gitlab.local") {
		t.Errorf("PublicKey missing comment: %q", kp.PublicKey)
	}
	signer, err := ssh.ParsePrivateKey(kp.PrivateKey.Bytes())
	if err != nil {
		t.Fatalf("private key does not parse: %v", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(kp.PublicKey))
	if err != nil {
		t.Fatal(err)
	}
	if string(pub.Marshal()) != string(signer.PublicKey().Marshal()) {
		t.Error("public key does not match private key")
	}
}

func TestGenerateRSA(t *testing.T) {
	kp, err := Generate(Options{Algorithm: RSA, Bits: 2048})
	if err != nil {
		t.Fatal(err)
	}
	defer kp.Close()
	if !strings.HasPrefix(kp.PublicKey, "ssh-rsa ") {
		t.Errorf("PublicKey = %q", kp.PublicKey)
	}
	if !strings.Contains(kp.PrivateKey.String(), "OPENSSH PRIVATE KEY") {
		t.Error("private key is not OpenSSH PEM")
	}
}

func TestGenerateRejects(t *testing.T) {
	if _, err := Generate(Options{Algorithm: RSA, Bits: 1024}); err == nil {
		t.Error("expected error for weak RSA key")
	}
	if _, err := Generate(Options{Algorithm: "dsa"}); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func TestLoadOrGenerate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id_ed25519")

	kp, loaded, err := LoadOrGenerate(path, Options{Algorithm: Ed25519, Comment: "u@h"})
	if err != nil {
		t.Fatal(err)
	}
	if loaded {
		t.Error("nothing on disk yet, expected a generated pair")
	}
	if err := os.WriteFile(path, kp.PrivateKey.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".pub", []byte(kp.PublicKey+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	want := kp.PublicKey
	kp.Close()

	again, loaded, err := LoadOrGenerate(path, Options{Algorithm: Ed25519})
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if !loaded {
		t.Error("expected the pair to be loaded from disk")
	}
	if again.PublicKey != want {
		t.Errorf("loaded PublicKey = %q, want %q", again.PublicKey, want)
	}
}

func TestLoadDerivesMissingPublicKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "id_ed25519")
	kp, err := Generate(Options{Algorithm: Ed25519})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, kp.PrivateKey.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	want := kp.PublicKey
	kp.Close()

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()
	if loaded.PublicKey != want {
		t.Errorf("derived PublicKey = %q, want %q", loaded.PublicKey, want)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id_rsa")
	os.WriteFile(path, []byte("not a key"), 0o600)
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
