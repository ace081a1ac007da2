package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/atomikpanda/converge/internal/ageutil"
	"github.com/atomikpanda/converge/internal/keygen"
	"github.com/atomikpanda/converge/internal/platform"
	"github.com/atomikpanda/converge/internal/secret"
)

// Material is the key and secret material of one run. Vault must be
// closed by the caller.
type Material struct {
	// Keys maps keypair names to authorized_keys lines.
	Keys  map[string]string
	Vault *secret.Vault
	// Generated lists the keypairs created for this run rather than loaded.
	Generated []string
}

// Close zeroes the vault.
func (m *Material) Close() error {
	return m.Vault.Close()
}

// LoadSecrets builds the keypairs and secrets the manifest declares.
// getenv resolves env: sources; nil means os.Getenv.
func (m *Manifest) LoadSecrets(getenv func(string) string) (_ *Material, err error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	mat := &Material{Keys: make(map[string]string), Vault: secret.NewVault()}
	defer func() {
		if err != nil {
			mat.Vault.Close()
		}
	}()

	if m.SecretsFile != "" {
		if err := m.loadSecretsFile(mat.Vault); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(m.Secrets))
	for name := range m.Secrets {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		src := m.Secrets[name]
		var b *secret.Buffer
		switch {
		case src.Generate > 0:
			b, err = secret.Random(src.Generate)
		default:
			v := getenv(src.Env)
			if v == "" {
				return nil, fmt.Errorf("secret %q: environment variable %s is not set", name, src.Env)
			}
			b, err = secret.NewFromBytes([]byte(v))
		}
		if err != nil {
			return nil, fmt.Errorf("secret %q: %w", name, err)
		}
		if err := mat.Vault.Put(name, b); err != nil {
			return nil, err
		}
	}

	for _, kp := range m.Keypairs {
		pair, loaded, err := keygen.LoadOrGenerate(platform.ExpandPath(kp.LoadFrom), keygen.Options{
			Algorithm: keygen.Algorithm(kp.Algorithm),
			Bits:      kp.Bits,
			Comment:   kp.Comment,
		})
		if err != nil {
			return nil, fmt.Errorf("keypair %q: %w", kp.Name, err)
		}
		if err := mat.Vault.Put(secret.KeyName(kp.Name), pair.PrivateKey); err != nil {
			return nil, err
		}
		mat.Keys[kp.Name] = pair.PublicKey
		if !loaded {
			mat.Generated = append(mat.Generated, kp.Name)
		}
	}
	return mat, nil
}

// loadSecretsFile decrypts the age-encrypted YAML map of name: value pairs
// named by secrets_file. The plaintext never touches disk.
func (m *Manifest) loadSecretsFile(v *secret.Vault) error {
	key := ageutil.KeyFromEnv()
	if key == nil {
		return fmt.Errorf("secrets_file is set but neither %s nor %s is", ageutil.EnvPassphrase, ageutil.EnvIdentity)
	}
	path := m.resolve(platform.ExpandPath(m.SecretsFile), "")
	plaintext, err := key.DecryptFileBytes(path)
	if err != nil {
		return fmt.Errorf("secrets_file %s: %w", path, err)
	}
	defer clear(plaintext)

	var values map[string]string
	if err := yaml.Unmarshal(plaintext, &values); err != nil {
		return fmt.Errorf("secrets_file %s: %w", path, err)
	}
	var errs []error
	for name, val := range values {
		if err := v.PutBytes(name, []byte(val)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
