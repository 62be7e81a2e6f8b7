package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

type kdfParams struct {
	Time    uint32 `json:"argon_time"`
	Memory  uint32 `json:"argon_memory_kib"`
	Threads uint8  `json:"argon_threads"`
	KeyLen  uint32 `json:"argon_key_len"`
}

var defaultKDF = kdfParams{Time: 2, Memory: 64 * 1024, Threads: 1, KeyLen: 32}

type keyEnvelope struct {
	Version int       `json:"version"`
	Address string    `json:"address"`
	KDF     kdfParams `json:"kdf"`
	Salt    string    `json:"salt_b64"`
	Nonce   string    `json:"nonce_b64"`
	Cipher  string    `json:"ct_b64"`
}

const keyEnvelopeVersion = 1

// SealKey encrypts key under passphrase into a self-describing JSON envelope.
func SealKey(key *ecdsa.PrivateKey, passphrase []byte) ([]byte, error) {
	return sealKey(key, passphrase, defaultKDF)
}

func sealKey(key *ecdsa.PrivateKey, passphrase []byte, kdf kdfParams) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("keystore: empty passphrase")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "rand salt")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "rand nonce")
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt, kdf))
	if err != nil {
		return nil, errors.Wrap(err, "aead")
	}

	// the address is bound as associated data so the envelope cannot be relabelled
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	env := keyEnvelope{
		Version: keyEnvelopeVersion,
		Address: addr,
		KDF:     kdf,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Nonce:   base64.StdEncoding.EncodeToString(nonce),
		Cipher:  base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, crypto.FromECDSA(key), []byte(addr))),
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode key envelope")
	}
	return b, nil
}

// OpenKey reverses SealKey. A wrong passphrase yields ErrInvalidPassphrase.
func OpenKey(data, passphrase []byte) (*ecdsa.PrivateKey, error) {
	var env keyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode key envelope")
	}
	if env.Version != keyEnvelopeVersion {
		return nil, errors.Errorf("unsupported key envelope version %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "decode salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, errors.Wrap(err, "decode nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(env.Cipher)
	if err != nil {
		return nil, errors.Wrap(err, "decode ciphertext")
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt, env.KDF))
	if err != nil {
		return nil, errors.Wrap(err, "aead")
	}
	plain, err := aead.Open(nil, nonce, ct, []byte(env.Address))
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return crypto.ToECDSA(plain)
}

func deriveKey(passphrase, salt []byte, p kdfParams) []byte {
	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}
