package crypto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipvault/internal/keystore"
)

type countingStore struct {
	keystore.Memory
	reads int
}

func (c *countingStore) Read(name string) ([]byte, error) {
	c.reads++
	return c.Memory.Read(name)
}

func TestRoundTrip(t *testing.T) {
	e := New(&keystore.Memory{})
	require.NoError(t, e.Ready())

	for _, plain := range [][]byte{nil, []byte("x"), make([]byte, 1<<16)} {
		sealed, err := e.Encrypt(plain)
		require.NoError(t, err)
		assert.Len(t, sealed, nonceSize+len(plain)+tagSize)

		got, err := e.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, len(plain), len(got))
		assert.Equal(t, string(plain), string(got))
	}
}

func TestNonceIsRandom(t *testing.T) {
	e := New(&keystore.Memory{})
	a, err := e.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := e.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestBitFlipFailsAuthentication(t *testing.T) {
	e := New(&keystore.Memory{})
	sealed, err := e.Encrypt([]byte("secret payload"))
	require.NoError(t, err)

	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 0x01
		_, err := e.Decrypt(tampered)
		require.ErrorIs(t, err, ErrAuthentication, "flip at byte %d", i)
	}

	_, err = e.Decrypt(sealed[:nonceSize+tagSize-1])
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestKeyGeneratedOnceAndReused(t *testing.T) {
	store := &countingStore{}
	e := New(store)
	require.NoError(t, e.Ready())
	require.NoError(t, e.Ready())
	assert.Equal(t, 1, store.reads)

	key, err := store.Memory.Read(KeyName)
	require.NoError(t, err)
	assert.Len(t, key, keySize)

	sealed, err := e.Encrypt([]byte("persisted"))
	require.NoError(t, err)

	// A second process with the same store opens what the first sealed.
	other := New(store)
	got, err := other.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
}

func TestWrongKeyFailsAuthentication(t *testing.T) {
	sealed, err := New(&keystore.Memory{}).Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = New(&keystore.Memory{}).Decrypt(sealed)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDegraded(t *testing.T) {
	e := New(keystore.Unavailable{Err: errors.New("dbus unreachable")})
	require.ErrorIs(t, e.Ready(), ErrUnavailable)

	_, err := e.Encrypt([]byte("x"))
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = e.Decrypt(make([]byte, 64))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBadKeyLength(t *testing.T) {
	store := &keystore.Memory{}
	require.NoError(t, store.Write(KeyName, []byte("short")))
	assert.ErrorIs(t, New(store).Ready(), ErrUnavailable)
}
