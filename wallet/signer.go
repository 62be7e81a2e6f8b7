package wallet

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/provider"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
)

// InjectedSigner wraps the connector for one wallet state. Every chain or account
// change produces a new InjectedSigner and invalidates this one.
type InjectedSigner struct {
	conn   Connector
	handle *provider.Handle
	seq    uint64

	account atomic.Pointer[common.Address]
	stale   atomic.Bool
}

var _ signer.Signer = (*InjectedSigner)(nil)

func newInjectedSigner(conn Connector, h *provider.Handle, seq uint64, accounts []common.Address) *InjectedSigner {
	s := &InjectedSigner{conn: conn, handle: h, seq: seq}
	if len(accounts) > 0 {
		a := accounts[0]
		s.account.Store(&a)
	}
	return s
}

func (s *InjectedSigner) Kind() signer.Kind { return signer.Injected }

// Seq is the rebuild number that produced this signer, starting at 1.
func (s *InjectedSigner) Seq() uint64 { return s.seq }

// Address returns the first wallet account. The first call asks the wallet.
func (s *InjectedSigner) Address(ctx context.Context) (common.Address, error) {
	if !s.Valid() {
		return common.Address{}, signer.ErrSignerUnavailable
	}
	if a := s.account.Load(); a != nil {
		return *a, nil
	}

	accounts, err := s.conn.Accounts(ctx)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "wallet accounts")
	}
	if !s.Valid() {
		return common.Address{}, signer.ErrSignerUnavailable
	}
	if len(accounts) == 0 {
		return common.Address{}, errors.Wrap(signer.ErrSignerUnavailable, "wallet exposes no accounts")
	}
	a := accounts[0]
	s.account.CompareAndSwap(nil, &a)
	return *s.account.Load(), nil
}

func (s *InjectedSigner) ChainID(ctx context.Context) (*big.Int, error) {
	if !s.Valid() {
		return nil, signer.ErrSignerUnavailable
	}
	return s.handle.ChainID(ctx)
}

func (s *InjectedSigner) SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	from, err := s.Address(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := s.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	signed, err := s.conn.SignTransaction(ctx, from, tx, chainID)
	if err != nil {
		return nil, err
	}
	// the wallet moved while the user was looking at the prompt
	if !s.Valid() {
		return nil, signer.ErrSignerUnavailable
	}
	return signed, nil
}

func (s *InjectedSigner) Provider() *provider.Handle { return s.handle }

func (s *InjectedSigner) Valid() bool { return !s.stale.Load() }

func (s *InjectedSigner) invalidate() { s.stale.Store(true) }

// cachedAccounts returns the account already learned, for seeding the next signer.
func (s *InjectedSigner) cachedAccounts() []common.Address {
	if a := s.account.Load(); a != nil {
		return []common.Address{*a}
	}
	return nil
}
