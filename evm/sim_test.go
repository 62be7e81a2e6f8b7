package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSimulatedChainFundAndMine(t *testing.T) {
	chain, key, addr, err := NewSimulatedChainWithAutoKey(nil, SimOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = chain.Close() })

	ctx := context.Background()
	b := chain.Backend()

	id, err := b.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(SimulatedChainID), id.Int64())

	bal, err := b.BalanceAt(ctx, addr, nil)
	require.NoError(t, err)
	require.Positive(t, bal.Sign())

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := crypto.PubkeyToAddress(other.PublicKey)

	before, err := b.BlockNumber(ctx)
	require.NoError(t, err)

	require.NoError(t, chain.Fund(ctx, key, to, big.NewInt(1_000)))

	after, err := b.BlockNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, after)

	got, err := b.BalanceAt(ctx, to, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), got.Int64())
}

func TestSimulatedChainDialerIgnoresURL(t *testing.T) {
	chain := NewSimulatedChain(nil, SimOptions{})
	t.Cleanup(func() { _ = chain.Close() })

	b, closeFn, err := chain.Dialer()(context.Background(), "http://unused")
	require.NoError(t, err)
	require.Nil(t, closeFn)
	require.NotNil(t, b)
}
