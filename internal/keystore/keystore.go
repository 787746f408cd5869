// Package keystore adapts secret stores that hold the history encryption key.
package keystore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrNotFound is returned by Read when no secret exists under the name.
var ErrNotFound = errors.New("keystore: secret not found")

// Store reads and writes named secrets.
type Store interface {
	Read(name string) ([]byte, error)
	Write(name string, secret []byte) error
}

// Keyring stores secrets in the OS credential store (Secret Service, macOS
// Keychain, Windows Credential Manager). Values are base64 encoded because
// some backends only accept strings.
type Keyring struct {
	Service string
}

// Read returns the decoded secret, or ErrNotFound when the keyring has none.
func (k Keyring) Read(name string) ([]byte, error) {
	v, err := keyring.Get(k.Service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get %s: %w", name, err)
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("keyring decode %s: %w", name, err)
	}
	return b, nil
}

// Write stores secret in the keyring, replacing any previous value.
func (k Keyring) Write(name string, secret []byte) error {
	if err := keyring.Set(k.Service, name, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return fmt.Errorf("keyring set %s: %w", name, err)
	}
	return nil
}

// File stores each secret as a 0600 file under Dir. It is meant for headless
// sessions without a credential store.
type File struct {
	Dir string
}

func (f File) path(name string) string {
	return filepath.Join(f.Dir, name)
}

// Read returns the file contents, or ErrNotFound when the file is missing.
func (f File) Read(name string) ([]byte, error) {
	b, err := os.ReadFile(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	return b, nil
}

// Write creates Dir if needed and replaces the secret file atomically with
// mode 0600.
func (f File) Write(name string, secret []byte) error {
	if err := os.MkdirAll(f.Dir, 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	tmp := f.path(name) + ".tmp"
	if err := os.WriteFile(tmp, secret, 0o600); err != nil {
		return fmt.Errorf("write secret %s: %w", name, err)
	}
	if err := os.Rename(tmp, f.path(name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write secret %s: %w", name, err)
	}
	return nil
}

// Memory is an in-process Store, used in tests and when persistence of the
// key is not wanted.
type Memory struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

// Read returns a copy of the stored secret, or ErrNotFound.
func (m *Memory) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.secrets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Write stores a copy of secret.
func (m *Memory) Write(name string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secrets == nil {
		m.secrets = make(map[string][]byte)
	}
	m.secrets[name] = append([]byte(nil), secret...)
	return nil
}

// Unavailable is a Store that always fails, for sessions where encryption
// is switched off.
type Unavailable struct {
	Err error
}

// Read and Write always fail with the configured reason.
func (u Unavailable) Read(string) ([]byte, error) { return nil, u.err() }
func (u Unavailable) Write(string, []byte) error  { return u.err() }

func (u Unavailable) err() error {
	if u.Err != nil {
		return u.Err
	}
	return errors.New("keystore: no secret store configured")
}
