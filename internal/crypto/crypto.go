// Package crypto encrypts clipboard payloads before they are written to disk.
//
// One 256-bit key per installation is kept in a keystore.Store. It is
// resolved lazily, exactly once: read, or generated and written back when
// the store has none. Every payload is sealed with ChaCha20-Poly1305 under a
// fresh random nonce:
//
//	[ 12-byte nonce ][ ciphertext ][ 16-byte tag ]
//
// When the store cannot be reached the Encryptor stays degraded for the life
// of the process and callers fall back to plaintext.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"go.klb.dev/clipvault/internal/keystore"
)

// KeyName is the secret store entry holding the encryption key.
const KeyName = "clipvault-encryption-key"

const (
	keySize   = chacha20poly1305.KeySize
	nonceSize = chacha20poly1305.NonceSize
	tagSize   = chacha20poly1305.Overhead
)

var (
	// ErrUnavailable means no key could be resolved.
	ErrUnavailable = errors.New("crypto: encryption unavailable")
	// ErrAuthentication means a ciphertext was tampered with, truncated or
	// sealed under another key.
	ErrAuthentication = errors.New("crypto: authentication failed")
)

// Encryptor seals and opens payloads with the installation key.
type Encryptor struct {
	store keystore.Store

	once sync.Once
	aead cipher.AEAD
	err  error
}

// New returns an Encryptor backed by store. Nothing is read until first use.
func New(store keystore.Store) *Encryptor {
	return &Encryptor{store: store}
}

// Ready resolves the key if that has not happened yet and reports whether
// encryption is available. The result never changes once computed.
func (e *Encryptor) Ready() error {
	e.once.Do(e.resolve)
	return e.err
}

func (e *Encryptor) resolve() {
	key, err := e.store.Read(KeyName)
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		key = make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			e.err = fmt.Errorf("%w: key generation: %w", ErrUnavailable, err)
			return
		}
		if err := e.store.Write(KeyName, key); err != nil {
			e.err = fmt.Errorf("%w: store key: %w", ErrUnavailable, err)
			return
		}
	case err != nil:
		e.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return
	}

	if len(key) != keySize {
		e.err = fmt.Errorf("%w: key has %d bytes, want %d", ErrUnavailable, len(key), keySize)
		return
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		e.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return
	}
	e.aead = aead
}

// Encrypt seals plaintext under a random nonce. Returns nonce+ciphertext+tag.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if err := e.Ready(); err != nil {
		return nil, err
	}
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+tagSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return e.aead.Seal(out, out[:nonceSize], plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (e *Encryptor) Decrypt(sealed []byte) ([]byte, error) {
	if err := e.Ready(); err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", ErrAuthentication, len(sealed))
	}
	plain, err := e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}
