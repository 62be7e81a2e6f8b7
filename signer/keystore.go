package signer

import (
	"context"
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound = errors.New("burner key not found")
	// ErrInvalidPassphrase keeps decryption failures generic.
	ErrInvalidPassphrase = errors.New("invalid passphrase or corrupted key file")
)

// KeyStore persists one burner key per profile.
type KeyStore interface {
	Load(ctx context.Context, profile string) (*ecdsa.PrivateKey, error)
	Save(ctx context.Context, profile string, key *ecdsa.PrivateKey) error
	Clear(ctx context.Context, profile string) error
}

// MemoryKeyStore keeps keys for the life of the process.
type MemoryKeyStore struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string][]byte)}
}

func (m *MemoryKeyStore) Load(_ context.Context, profile string) (*ecdsa.PrivateKey, error) {
	m.mu.Lock()
	raw, ok := m.keys[profile]
	m.mu.Unlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return crypto.ToECDSA(raw)
}

func (m *MemoryKeyStore) Save(_ context.Context, profile string, key *ecdsa.PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[profile] = crypto.FromECDSA(key)
	return nil
}

func (m *MemoryKeyStore) Clear(_ context.Context, profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, profile)
	return nil
}

// FileKeyStore writes each profile's key to <dir>/<profile>.burner.json, sealed
// with XChaCha20-Poly1305 under an argon2id-derived key.
type FileKeyStore struct {
	dir        string
	passphrase []byte
	kdf        kdfParams
	mu         sync.Mutex
}

func NewFileKeyStore(dir string, passphrase []byte) (*FileKeyStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keystore: empty directory")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("keystore: empty passphrase")
	}
	return &FileKeyStore{dir: dir, passphrase: append([]byte(nil), passphrase...), kdf: defaultKDF}, nil
}

func (f *FileKeyStore) path(profile string) string {
	return filepath.Join(f.dir, filepath.Base(profile)+".burner.json")
}

func (f *FileKeyStore) Load(_ context.Context, profile string) (*ecdsa.PrivateKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path(profile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	return OpenKey(b, f.passphrase)
}

func (f *FileKeyStore) Save(_ context.Context, profile string, key *ecdsa.PrivateKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := sealKey(key, f.passphrase, f.kdf)
	if err != nil {
		return err
	}
	return atomicWrite(f.path(profile), b)
}

func (f *FileKeyStore) Clear(_ context.Context, profile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(profile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove key file")
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".burner-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "rename key file")
}
