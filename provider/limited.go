package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// limitedBackend throttles every outbound call; public gateways rate limit hard.
type limitedBackend struct {
	next    Backend
	limiter *rate.Limiter
}

func withRateLimit(b Backend, rps float64, burst int) Backend {
	if rps <= 0 {
		return b
	}
	if burst <= 0 {
		burst = 1
	}
	return &limitedBackend{next: b, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limitedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.ChainID(ctx)
}

func (l *limitedBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return l.next.BlockNumber(ctx)
}

func (l *limitedBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.HeaderByNumber(ctx, number)
}

func (l *limitedBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.BalanceAt(ctx, account, blockNumber)
}

func (l *limitedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return l.next.PendingNonceAt(ctx, account)
}

func (l *limitedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.SuggestGasPrice(ctx)
}

func (l *limitedBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return l.next.EstimateGas(ctx, msg)
}

func (l *limitedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.SendTransaction(ctx, tx)
}

func (l *limitedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.TransactionReceipt(ctx, txHash)
}

func (l *limitedBackend) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return l.next.TransactionByHash(ctx, txHash)
}
