// Package wallettest provides an in-process wallet connector and selection modal
// for exercising wallet sessions without a browser wallet.
package wallettest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantum-dapp-core/provider"
	"github.com/quantumauth-io/quantum-dapp-core/signer"
	"github.com/quantumauth-io/quantum-dapp-core/wallet"
)

// Connector forwards reads to a backend, signs with a local key and reports the
// chain id it was last told to use.
type Connector struct {
	provider.Backend

	key *ecdsa.PrivateKey

	mu       sync.Mutex
	chainID  *big.Int
	accounts []common.Address
	handlers map[int]func(wallet.Event)
	next     int
	reject   bool
	locked   bool

	AccountCalls atomic.Int32
}

var _ wallet.Connector = (*Connector)(nil)

func NewConnector(backend provider.Backend, key *ecdsa.PrivateKey, chainID *big.Int) *Connector {
	return &Connector{
		Backend:  backend,
		key:      key,
		chainID:  new(big.Int).Set(chainID),
		accounts: []common.Address{crypto.PubkeyToAddress(key.PublicKey)},
		handlers: make(map[int]func(wallet.Event)),
	}
}

// ChainID reports the wallet's selected chain rather than the backend's.
func (c *Connector) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.chainID), nil
}

func (c *Connector) Accounts(context.Context) ([]common.Address, error) {
	c.AccountCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return nil, nil
	}
	return append([]common.Address(nil), c.accounts...), nil
}

// Lock hides every account, as a locked wallet does.
func (c *Connector) Lock(locked bool) {
	c.mu.Lock()
	c.locked = locked
	c.mu.Unlock()
}

func (c *Connector) SignTransaction(_ context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	c.mu.Lock()
	reject := c.reject
	c.mu.Unlock()
	if reject {
		return nil, signer.ErrRejected
	}
	if from != crypto.PubkeyToAddress(c.key.PublicKey) {
		return nil, errors.Errorf("unknown account %s", from.Hex())
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
}

// RejectSignatures makes every following signature request fail as a user decline.
func (c *Connector) RejectSignatures(reject bool) {
	c.mu.Lock()
	c.reject = reject
	c.mu.Unlock()
}

func (c *Connector) On(handler func(wallet.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.handlers[id] = handler
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Subscribers reports how many handlers are registered.
func (c *Connector) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// Emit applies ev to the wallet state and delivers it to every handler in
// registration order before returning.
func (c *Connector) Emit(ev wallet.Event) {
	c.mu.Lock()
	switch e := ev.(type) {
	case wallet.ChainChanged:
		c.chainID = new(big.Int).Set(e.ChainID)
	case wallet.AccountsChanged:
		if len(e.Accounts) > 0 {
			c.accounts = append([]common.Address(nil), e.Accounts...)
		}
	}
	fns := make([]func(wallet.Event), 0, len(c.handlers))
	for i := 0; i < c.next; i++ {
		if fn, ok := c.handlers[i]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// DisconnectingConnector adds the optional disconnect capability. With Echo set,
// Disconnect emits a disconnect event to the registered handlers before returning,
// as browser providers do.
type DisconnectingConnector struct {
	*Connector
	Err   error
	Echo  bool
	Calls atomic.Int32
}

var _ wallet.Disconnecter = (*DisconnectingConnector)(nil)

func (d *DisconnectingConnector) Disconnect(context.Context) error {
	d.Calls.Add(1)
	if d.Echo {
		d.Emit(wallet.Disconnect{Code: 1000, Reason: "disconnected"})
	}
	return d.Err
}

// Modal selects a fixed connector.
type Modal struct {
	Conn   wallet.Connector
	ID     string
	Cancel bool

	SelectCalls  atomic.Int32
	RestoreCalls atomic.Int32
}

func (m *Modal) Select(context.Context) (wallet.Connector, string, error) {
	m.SelectCalls.Add(1)
	if m.Cancel || m.Conn == nil {
		return nil, "", wallet.ErrUserCancelled
	}
	return m.Conn, m.ID, nil
}

func (m *Modal) Restore(_ context.Context, id string) (wallet.Connector, error) {
	m.RestoreCalls.Add(1)
	if m.Conn == nil || id != m.ID {
		return nil, errors.Errorf("no connector %q", id)
	}
	return m.Conn, nil
}
