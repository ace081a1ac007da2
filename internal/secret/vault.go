package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// NewFromBytes copies source into a new Buffer and zeroes source, so the
// caller's slice no longer holds the secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	b, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(b.Bytes(), source)
	clear(source)
	return b, nil
}

// Random returns a Buffer holding a URL-safe random token encoding n
// random bytes.
func Random(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("secret: random length must be positive, got %d", n)
	}
	raw := make([]byte, n)
	defer clear(raw)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("secret: read random: %w", err)
	}
	encoded := make([]byte, base64.RawURLEncoding.EncodedLen(n))
	base64.RawURLEncoding.Encode(encoded, raw)
	return NewFromBytes(encoded)
}

// Vault holds the named secrets of one run. The zero value is not usable;
// call NewVault.
type Vault struct {
	mu      sync.Mutex
	entries map[string]*Buffer
	closed  bool
}

// NewVault returns an empty Vault.
func NewVault() *Vault {
	return &Vault{entries: make(map[string]*Buffer)}
}

// Put stores b under name, closing any buffer previously stored there.
// The vault takes ownership of b.
func (v *Vault) Put(name string, b *Buffer) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		b.Close()
		return fmt.Errorf("secret: vault is closed")
	}
	if old, ok := v.entries[name]; ok {
		old.Close()
	}
	v.entries[name] = b
	return nil
}

// PutBytes copies data into a new Buffer stored under name and zeroes data.
func (v *Vault) PutBytes(name string, data []byte) error {
	b, err := NewFromBytes(data)
	if err != nil {
		return fmt.Errorf("secret %q: %w", name, err)
	}
	return v.Put(name, b)
}

// Value returns a string copy of the named secret.
func (v *Vault) Value(name string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.entries[name]
	if !ok || v.closed {
		return "", false
	}
	return b.String(), true
}

// Names returns the stored secret names in sorted order.
func (v *Vault) Names() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.entries))
	for n := range v.entries {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Close zeroes and releases every stored buffer. Close is idempotent.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	var first error
	for name, b := range v.entries {
		if err := b.Close(); err != nil && first == nil {
			first = fmt.Errorf("secret %q: %w", name, err)
		}
	}
	clear(v.entries)
	return first
}

// Redacted is a string that never reaches logs in clear text.
type Redacted string

// LogValue implements slog.LogValuer.
func (Redacted) LogValue() slog.Value {
	return slog.StringValue("[redacted]")
}

// String implements fmt.Stringer so %v and %s are also redacted.
func (Redacted) String() string {
	return "[redacted]"
}

// KeyName is the vault name under which the private half of keypair is
// stored.
func KeyName(keypair string) string {
	return "keypair:" + keypair
}
