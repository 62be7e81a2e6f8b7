package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/provider"
)

// BurnerSigner signs with a locally held key against the local network handle.
type BurnerSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	handle  *provider.Handle
	stale   atomic.Bool
}

func newBurnerSigner(key *ecdsa.PrivateKey, h *provider.Handle) *BurnerSigner {
	return &BurnerSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		handle:  h,
	}
}

func (b *BurnerSigner) Kind() Kind { return Burner }

func (b *BurnerSigner) Address(ctx context.Context) (common.Address, error) {
	if !b.Valid() {
		return common.Address{}, ErrSignerUnavailable
	}
	return b.address, nil
}

func (b *BurnerSigner) ChainID(ctx context.Context) (*big.Int, error) {
	if !b.Valid() {
		return nil, ErrSignerUnavailable
	}
	return b.handle.ChainID(ctx)
}

func (b *BurnerSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), b.key)
	if err != nil {
		return nil, errors.Wrap(err, "burner sign")
	}
	return signed, nil
}

func (b *BurnerSigner) Provider() *provider.Handle { return b.handle }

func (b *BurnerSigner) Valid() bool {
	return !b.stale.Load() && !b.handle.Superseded()
}

// TransactOpts builds keyed transact options for typed contract bindings.
func (b *BurnerSigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyedTransactorWithChainID(b.key, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "burner transactor")
	}
	opts.From = b.address
	opts.Context = ctx
	return opts, nil
}

func (b *BurnerSigner) invalidate() { b.stale.Store(true) }
