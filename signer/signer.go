package signer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/provider"
)

var (
	// ErrSignerUnavailable is returned by a signer that was replaced after a wallet
	// event or a provider change. Re-resolve instead of retrying the same value.
	ErrSignerUnavailable = errors.New("signer unavailable")
	// ErrRejected is returned when the signer declines to sign.
	ErrRejected = errors.New("signature rejected")
)

type Kind int

const (
	Injected Kind = iota + 1
	Burner
)

func (k Kind) String() string {
	switch k {
	case Injected:
		return "injected"
	case Burner:
		return "burner"
	default:
		return "none"
	}
}

// Signer is a signing identity bound to one provider handle.
type Signer interface {
	Kind() Kind
	Address(ctx context.Context) (common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
	Provider() *provider.Handle
	// Valid is false once the signer has been superseded.
	Valid() bool
}

// Identity is the resolved active signer. A nil *Identity means display-only mode.
type Identity struct {
	Address  common.Address
	Kind     Kind
	Provider *provider.Handle
	Signer   Signer
}

// ChainID reports the chain id of the provider backing the identity.
func (id *Identity) ChainID(ctx context.Context) (*big.Int, error) {
	if id == nil || id.Signer == nil {
		return nil, ErrSignerUnavailable
	}
	return id.Signer.ChainID(ctx)
}
