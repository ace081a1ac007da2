// Package keygen generates and loads SSH keypairs in OpenSSH format.
//
// Private key material is returned in a secret.Buffer and must be released
// with Keypair.Close once it has been written to disk.
package keygen

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/atomikpanda/converge/internal/secret"
)

// Algorithm names a supported key type.
type Algorithm string

const (
	RSA     Algorithm = "rsa"
	Ed25519 Algorithm = "ed25519"
)

// DefaultRSABits is used when Options.Bits is zero.
const DefaultRSABits = 3072

// Options controls key generation.
type Options struct {
	Algorithm Algorithm
	Bits      int // RSA only
	Comment   string
}

// Keypair is an OpenSSH private key (PEM) and its authorized_keys line.
type Keypair struct {
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key memory. Close is idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// Generate creates a new keypair.
func Generate(opts Options) (*Keypair, error) {
	var (
		priv crypto.PrivateKey
		pub  crypto.PublicKey
	)
	switch strings.ToLower(string(opts.Algorithm)) {
	case "", string(RSA):
		bits := opts.Bits
		if bits == 0 {
			bits = DefaultRSABits
		}
		if bits < 2048 {
			return nil, fmt.Errorf("rsa key size %d is below the 2048-bit minimum", bits)
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		priv, pub = key, &key.PublicKey
	case string(Ed25519):
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		priv, pub = k, p
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", opts.Algorithm)
	}

	block, err := ssh.MarshalPrivateKey(priv, opts.Comment)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	buf, err := secret.NewFromBytes(pem.EncodeToMemory(block))
	if err != nil {
		return nil, err
	}
	return &Keypair{
		PrivateKey: buf,
		PublicKey:  authorizedLine(sshPub, opts.Comment),
	}, nil
}

// Load reads an existing private key and its ".pub" companion. When the
// public file is missing the public key is derived from the private key.
func Load(privatePath string) (*Keypair, error) {
	pemBytes, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		clear(pemBytes)
		return nil, fmt.Errorf("parse private key %s: %w", privatePath, err)
	}

	public, err := os.ReadFile(privatePath + ".pub")
	switch {
	case err == nil:
		// keep the file's comment verbatim
	case errors.Is(err, os.ErrNotExist):
		public = []byte(authorizedLine(signer.PublicKey(), ""))
	default:
		clear(pemBytes)
		return nil, fmt.Errorf("read public key: %w", err)
	}

	buf, err := secret.NewFromBytes(pemBytes)
	if err != nil {
		return nil, err
	}
	return &Keypair{PrivateKey: buf, PublicKey: strings.TrimSpace(string(public))}, nil
}

// LoadOrGenerate loads the keypair at path when a private key exists there,
// and generates a new one otherwise. The bool reports whether the pair was
// loaded from disk.
func LoadOrGenerate(path string, opts Options) (*Keypair, bool, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			kp, err := Load(path)
			return kp, true, err
		}
	}
	kp, err := Generate(opts)
	return kp, false, err
}

func authorizedLine(pub ssh.PublicKey, comment string) string {
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		line += " " + comment
	}
	return line
}
