package signer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileKeyStore(dir, []byte("correct horse"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx, "default")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "default", key))

	info, err := os.Stat(filepath.Join(dir, "default.burner.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := store.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(got.PublicKey))

	wrong, err := NewFileKeyStore(dir, []byte("battery staple"))
	require.NoError(t, err)
	_, err = wrong.Load(ctx, "default")
	assert.True(t, errors.Is(err, ErrInvalidPassphrase))

	require.NoError(t, store.Clear(ctx, "default"))
	require.NoError(t, store.Clear(ctx, "default"))
	_, err = store.Load(ctx, "default")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestNewFileKeyStoreValidates(t *testing.T) {
	_, err := NewFileKeyStore("", []byte("x"))
	assert.Error(t, err)
	_, err = NewFileKeyStore(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestMemoryKeyStoreProfilesAreIsolated(t *testing.T) {
	store := NewMemoryKeyStore()
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "a", key))

	_, err = store.Load(ctx, "b")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	got, err := store.Load(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, key.D.Cmp(got.D))
}

func TestEnvelopeBindsAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealed, err := SealKey(key, []byte("pw"))
	require.NoError(t, err)

	opened, err := OpenKey(sealed, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(opened.PublicKey))

	var env keyEnvelope
	require.NoError(t, json.Unmarshal(sealed, &env))
	env.Address = "0x0000000000000000000000000000000000000001"
	relabelled, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = OpenKey(relabelled, []byte("pw"))
	assert.True(t, errors.Is(err, ErrInvalidPassphrase))

	_, err = SealKey(key, nil)
	assert.Error(t, err)
}
