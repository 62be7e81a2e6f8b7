package database

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/signer"
)

const (
	selectBurnerKey = `SELECT envelope FROM burner_keys WHERE profile = $1`
	upsertBurnerKey = `INSERT INTO burner_keys (profile, address, envelope)
VALUES ($1, $2, $3)
ON CONFLICT (profile) DO UPDATE SET address = EXCLUDED.address, envelope = EXCLUDED.envelope, updated_at = now()`
	deleteBurnerKey = `DELETE FROM burner_keys WHERE profile = $1`
)

// BurnerKeyStore keeps sealed burner keys in the burner_keys table, one row per profile.
type BurnerKeyStore struct {
	db         Querier
	passphrase []byte
}

var _ signer.KeyStore = (*BurnerKeyStore)(nil)

func NewBurnerKeyStore(db Querier, passphrase []byte) (*BurnerKeyStore, error) {
	if db == nil {
		return nil, errors.New("database: nil querier")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("database: empty burner passphrase")
	}
	return &BurnerKeyStore{db: db, passphrase: append([]byte(nil), passphrase...)}, nil
}

func (s *BurnerKeyStore) Load(ctx context.Context, profile string) (*ecdsa.PrivateKey, error) {
	var envelope []byte
	err := s.db.QueryRow(ctx, selectBurnerKey, profile).Scan(&envelope)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, signer.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load burner key %q", profile)
	}
	return signer.OpenKey(envelope, s.passphrase)
}

func (s *BurnerKeyStore) Save(ctx context.Context, profile string, key *ecdsa.PrivateKey) error {
	envelope, err := signer.SealKey(key, s.passphrase)
	if err != nil {
		return err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if _, err := s.db.Exec(ctx, upsertBurnerKey, profile, addr, envelope); err != nil {
		return errors.Wrapf(err, "save burner key %q", profile)
	}
	return nil
}

func (s *BurnerKeyStore) Clear(ctx context.Context, profile string) error {
	if _, err := s.db.Exec(ctx, deleteBurnerKey, profile); err != nil {
		return errors.Wrapf(err, "clear burner key %q", profile)
	}
	return nil
}
