package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/provider"
)

// SimulatedChain is a deterministic in-memory chain for tests, CI and offline local
// development. It uses go-ethereum's ethclient/simulated backend, which always runs
// with chain id 1337 and only mines when Commit is called (or AutoMine runs).
type SimulatedChain struct {
	backend *simulated.Backend
	client  simulated.Client

	mu        sync.Mutex
	closed    bool
	stopMines []context.CancelFunc
}

var _ provider.Backend = (simulated.Client)(nil)

type SimOptions struct {
	BlockGasLimit uint64
}

const SimulatedChainID = 1337

func NewSimulatedChain(genesisAlloc types.GenesisAlloc, opts SimOptions) *SimulatedChain {
	if opts.BlockGasLimit == 0 {
		opts.BlockGasLimit = 100_000_000
	}

	b := simulated.NewBackend(
		genesisAlloc,
		simulated.WithBlockGasLimit(opts.BlockGasLimit),
	)

	return &SimulatedChain{
		backend: b,
		client:  b.Client(),
	}
}

// NewSimulatedChainWithAutoKey generates a key, funds it in genesis, and returns the
// chain + keypair for convenience.
func NewSimulatedChainWithAutoKey(initialBalanceWei *big.Int, opts SimOptions) (*SimulatedChain, *ecdsa.PrivateKey, common.Address, error) {
	if initialBalanceWei == nil {
		initialBalanceWei = new(big.Int)
		initialBalanceWei.SetString("100000000000000000000", 10) // 100 ETH
	}

	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, common.Address{}, err
	}

	addr := crypto.PubkeyToAddress(priv.PublicKey)
	alloc := types.GenesisAlloc{
		addr: {Balance: initialBalanceWei},
	}

	return NewSimulatedChain(alloc, opts), priv, addr, nil
}

// Backend exposes the chain through the provider capability set.
func (c *SimulatedChain) Backend() provider.Backend {
	return c.client
}

// Dialer ignores the URL and always connects to this chain; handy for wiring a
// provider.Registry against the simulation.
func (c *SimulatedChain) Dialer() provider.Dialer {
	return func(ctx context.Context, url string) (provider.Backend, func(), error) {
		return c.client, nil, nil
	}
}

// Commit seals a block and advances the chain.
func (c *SimulatedChain) Commit() common.Hash {
	return c.backend.Commit()
}

// AdjustTime changes block timestamp and creates a new block.
func (c *SimulatedChain) AdjustTime(d time.Duration) error {
	return c.backend.AdjustTime(d)
}

func (c *SimulatedChain) Rollback() {
	c.backend.Rollback()
}

// AutoMine commits a block every interval until ctx ends or the chain is closed.
func (c *SimulatedChain) AutoMine(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stopMines = append(c.stopMines, cancel)
	c.mu.Unlock()

	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.mu.Lock()
				if c.closed {
					c.mu.Unlock()
					return
				}
				h := c.backend.Commit()
				c.mu.Unlock()
				log.Debug("simulated block mined", "hash", h.Hex())
			}
		}
	}()
}

// Fund moves wei from a funded key to addr and mines the transfer.
func (c *SimulatedChain) Fund(ctx context.Context, from *ecdsa.PrivateKey, to common.Address, amount *big.Int) error {
	sender := crypto.PubkeyToAddress(from.PublicKey)
	nonce, err := c.client.PendingNonceAt(ctx, sender)
	if err != nil {
		return err
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      21_000,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(SimulatedChainID)), from)
	if err != nil {
		return err
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return err
	}
	c.Commit()
	return nil
}

func (c *SimulatedChain) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stops := c.stopMines
	c.stopMines = nil
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	return c.backend.Close()
}
