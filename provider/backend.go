// Package provider owns live chain connections. A Handle is one connection to one
// source (a JSON-RPC endpoint or an injected wallet); handles are never mutated in
// place, a new source means a new Handle.
package provider

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Backend is the capability set the core needs from a chain connection.
// *ethclient.Client, the simulated client and wallet connectors satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

var _ Backend = (*ethclient.Client)(nil)

var ErrConnection = errors.New("connection error")

// ConnectionError reports an unreachable endpoint. errors.Is(err, ErrConnection) holds.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("provider: connection error: %v", e.Err)
	}
	return fmt.Sprintf("provider: connection error (%s): %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// Dialer opens a backend for one URL. The returned close func may be nil.
type Dialer func(ctx context.Context, url string) (Backend, func(), error)

func DialEthClient(ctx context.Context, url string) (Backend, func(), error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dial backend %q", url)
	}
	return c, c.Close, nil
}
